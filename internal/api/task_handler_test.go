package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terralens/terralens-api/internal/api/shared"
	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
	"github.com/terralens/terralens-api/internal/store"
)

// stubTaskService drives handler tests through function fields; unset
// methods fail the call.
type stubTaskService struct {
	createFn func(ctx context.Context, in service.CreateTaskInput) (*service.CreateTaskResult, error)
	getFn    func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*service.TaskDetail, error)
	deleteFn func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) error

	deleteProjectFn func(ctx context.Context, projectID int64) error
}

func (s *stubTaskService) Create(ctx context.Context, in service.CreateTaskInput) (*service.CreateTaskResult, error) {
	if s.createFn == nil {
		return nil, errors.New("unexpected Create call")
	}
	return s.createFn(ctx, in)
}

func (s *stubTaskService) Get(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*service.TaskDetail, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFn(ctx, kind, id, projectID)
}

func (s *stubTaskService) Delete(ctx context.Context, kind domain.TaskKind, id, projectID *int64) error {
	if s.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, kind, id, projectID)
}

func (s *stubTaskService) DeleteProject(ctx context.Context, projectID int64) error {
	if s.deleteProjectFn == nil {
		return errors.New("unexpected DeleteProject call")
	}
	return s.deleteProjectFn(ctx, projectID)
}

func (s *stubTaskService) MarkRunning(ctx context.Context, projectID int64) error {
	return errors.New("unexpected MarkRunning call")
}

func (s *stubTaskService) CompleteDetection2D(ctx context.Context, taskID, projectID, plotImageID int64) error {
	return errors.New("unexpected call")
}

func (s *stubTaskService) CompleteSegmentation2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error {
	return errors.New("unexpected call")
}

func (s *stubTaskService) CompleteChangeDetection2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error {
	return errors.New("unexpected call")
}

func (s *stubTaskService) CompleteSegmentation3D(ctx context.Context, taskID, projectID, resultPointcloudID int64) error {
	return errors.New("unexpected call")
}

func (s *stubTaskService) RequeueUnfinished(ctx context.Context) (int, error) {
	return 0, errors.New("unexpected call")
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) shared.Envelope {
	t.Helper()
	var env shared.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestCreateTask_Success(t *testing.T) {
	svc := &stubTaskService{
		createFn: func(ctx context.Context, in service.CreateTaskInput) (*service.CreateTaskResult, error) {
			assert.Equal(t, domain.KindSegmentation2D, in.Kind)
			assert.Equal(t, int64(7), in.ImageID)
			assert.Equal(t, "North field", in.ProjectName)
			return &service.CreateTaskResult{TaskID: 21, ProjectID: 11}, nil
		},
	}
	handler := NewTaskHandler(svc)

	body := `{"type":"2d_segmentation","project_name":"North field","image_id":7}`
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateTask(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":21,"project_id":11}`, string(data))
}

func TestCreateTask_ChangeDetectionImagePair(t *testing.T) {
	svc := &stubTaskService{
		createFn: func(ctx context.Context, in service.CreateTaskInput) (*service.CreateTaskResult, error) {
			assert.Equal(t, int64(1), in.ImageID)
			assert.Equal(t, int64(2), in.Image2ID)
			return &service.CreateTaskResult{TaskID: 30, ProjectID: 12}, nil
		},
	}
	handler := NewTaskHandler(svc)

	body := `{"type":"2d_change_detection","image1_id":1,"image2_id":2}`
	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.CreateTask(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateTask_InvalidBody(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	req := httptest.NewRequest(http.MethodPost, "/task", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.CreateTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Contains(t, env.Message, "Invalid request format")
}

func TestCreateTask_MissingType(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"image_id":7}`))
	rec := httptest.NewRecorder()
	handler.CreateTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Contains(t, env.Message, "Validation error")
}

func TestCreateTask_UnknownType(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"type":"orthophoto","image_id":7}`))
	rec := httptest.NewRecorder()
	handler.CreateTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Unknown task type", env.Message)
}

func TestCreateTask_ServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"kind mismatch", domain.ErrKindMismatch, http.StatusConflict},
		{"task exists", store.ErrTaskExists, http.StatusConflict},
		{"project not found", store.ErrProjectNotFound, http.StatusNotFound},
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubTaskService{
				createFn: func(ctx context.Context, in service.CreateTaskInput) (*service.CreateTaskResult, error) {
					return nil, tc.err
				},
			}
			handler := NewTaskHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/task", strings.NewReader(`{"type":"2d_detection","image_id":7}`))
			rec := httptest.NewRecorder()
			handler.CreateTask(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, tc.wantStatus, env.Code)
		})
	}
}

func TestGetTask_Success(t *testing.T) {
	svc := &stubTaskService{
		getFn: func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*service.TaskDetail, error) {
			assert.Equal(t, domain.KindDetection2D, kind)
			require.NotNil(t, id)
			assert.Equal(t, int64(21), *id)
			assert.Nil(t, projectID)
			return &service.TaskDetail{Kind: kind, Assets: map[string]domain.AssetRef{}}, nil
		},
	}
	handler := NewTaskHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/task?type=2d_detection&id=21", nil)
	rec := httptest.NewRecorder()
	handler.GetTask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTask_MissingKey(t *testing.T) {
	svc := &stubTaskService{
		getFn: func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*service.TaskDetail, error) {
			return nil, domain.ErrMissingKey
		},
	}
	handler := NewTaskHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/task?type=2d_detection", nil)
	rec := httptest.NewRecorder()
	handler.GetTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Either id or project_id must be provided", env.Message)
}

func TestGetTask_UnknownType(t *testing.T) {
	handler := NewTaskHandler(&stubTaskService{})

	req := httptest.NewRequest(http.MethodGet, "/task?type=volume&id=1", nil)
	rec := httptest.NewRecorder()
	handler.GetTask(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask_NotFound(t *testing.T) {
	svc := &stubTaskService{
		getFn: func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*service.TaskDetail, error) {
			return nil, store.ErrTaskNotFound
		},
	}
	handler := NewTaskHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/task?type=3d_segmentation&id=404", nil)
	rec := httptest.NewRecorder()
	handler.GetTask(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTask_ByProject(t *testing.T) {
	svc := &stubTaskService{
		deleteFn: func(ctx context.Context, kind domain.TaskKind, id, projectID *int64) error {
			assert.Nil(t, id)
			require.NotNil(t, projectID)
			assert.Equal(t, int64(11), *projectID)
			return nil
		},
	}
	handler := NewTaskHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/task?type=2d_segmentation&project_id=11", nil)
	rec := httptest.NewRecorder()
	handler.DeleteTask(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, 0, env.Code)
}
