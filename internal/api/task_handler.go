package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/terralens/terralens-api/internal/api/shared"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
	"github.com/terralens/terralens-api/internal/store"
)

// CreateTaskRequest represents the request body for creating an analysis
// task. The input id fields required depend on the type.
type CreateTaskRequest struct {
	Type        string `json:"type" validate:"required"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`

	ImageID      int64 `json:"image_id,omitempty"`
	Image1ID     int64 `json:"image1_id,omitempty"`
	Image2ID     int64 `json:"image2_id,omitempty"`
	PointcloudID int64 `json:"pointcloud_id,omitempty"`
}

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	taskService service.TaskService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(taskService service.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// CreateTask handles POST /task requests.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	kind, err := domain.ParseTaskKind(req.Type)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
		return
	}

	imageID := req.ImageID
	if kind == domain.KindChangeDetection2D && imageID == 0 {
		imageID = req.Image1ID
	}

	result, err := h.taskService.Create(r.Context(), service.CreateTaskInput{
		Kind:         kind,
		ProjectID:    req.ProjectID,
		ProjectName:  req.ProjectName,
		ImageID:      imageID,
		Image2ID:     req.Image2ID,
		PointcloudID: req.PointcloudID,
	})
	if err != nil {
		respondTaskError(w, r, err, "Failed to create task")
		return
	}

	shared.RespondWithData(w, r, http.StatusCreated, result)
}

// GetTask handles GET /task requests. The task is addressed by type plus
// either id or project_id.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseTaskKind(r.URL.Query().Get("type"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
		return
	}
	id, projectID := queryKeys(r)

	detail, err := h.taskService.Get(r.Context(), kind, id, projectID)
	if err != nil {
		respondTaskError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, detail)
}

// DeleteTask handles DELETE /task requests.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseTaskKind(r.URL.Query().Get("type"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
		return
	}
	id, projectID := queryKeys(r)

	if err := h.taskService.Delete(r.Context(), kind, id, projectID); err != nil {
		respondTaskError(w, r, err, "Failed to delete task")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, nil)
}

func queryKeys(r *http.Request) (id, projectID *int64) {
	if v, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64); err == nil {
		id = &v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64); err == nil {
		projectID = &v
	}
	return id, projectID
}

func respondTaskError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrMissingKey):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Either id or project_id must be provided")
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTaskKind):
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task input")
	case errors.Is(err, domain.ErrKindMismatch):
		shared.RespondWithError(w, r, http.StatusConflict, "Project type does not match task type")
	case errors.Is(err, store.ErrTaskExists):
		shared.RespondWithError(w, r, http.StatusConflict, "Project already owns a task")
	case store.IsNotFoundError(err):
		shared.RespondWithError(w, r, http.StatusNotFound, "Not found")
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, fallback, err)
	}
}
