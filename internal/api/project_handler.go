package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terralens/terralens-api/internal/api/shared"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// UpdateProjectRequest represents the request body for editing a project.
// Both fields are optional but at least one must be provided.
type UpdateProjectRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=255"`
	CoverImageID *int64  `json:"cover_image_id" validate:"omitempty,gt=0"`
}

// ProjectHandler handles project-related HTTP requests. Deletes cascade
// through the task service so the project's task and derived assets go with
// it.
type ProjectHandler struct {
	projectService service.ProjectService
	taskService    service.TaskService
}

// NewProjectHandler creates a new ProjectHandler.
func NewProjectHandler(projectService service.ProjectService, taskService service.TaskService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, taskService: taskService}
}

// ListProjects handles GET /project requests with optional type and status
// filters.
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	var kinds []domain.TaskKind
	if raw := r.URL.Query().Get("type"); raw != "" {
		kind, err := domain.ParseTaskKind(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
			return
		}
		kinds = append(kinds, kind)
	}
	var statuses []domain.ProjectStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = append(statuses, domain.ProjectStatus(raw))
	}
	limit, offset := pagination(r)

	projects, err := h.projectService.List(r.Context(), kinds, statuses, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, projects)
}

// GetProject handles GET /project/{id} requests.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	project, err := h.projectService.Get(r.Context(), id)
	if err != nil {
		respondTaskError(w, r, err, "Failed to get project")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, project)
}

// UpdateProject handles PUT /project/{id} requests, editing the name
// and/or the cover image.
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateProjectRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	in := service.UpdateProjectInput{Name: req.Name, CoverImageID: req.CoverImageID}
	if err := h.projectService.Update(r.Context(), id, in); err != nil {
		respondTaskError(w, r, err, "Failed to update project")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, nil)
}

// DeleteProject handles DELETE /project/{id} requests.
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.taskService.DeleteProject(r.Context(), id); err != nil {
		respondTaskError(w, r, err, "Failed to delete project")
		return
	}

	shared.RespondWithData(w, r, http.StatusOK, nil)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
