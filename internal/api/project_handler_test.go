package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/service"
	"github.com/terralens/terralens-api/internal/store"
)

type stubProjectService struct {
	listFn   func(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]service.ProjectView, error)
	getFn    func(ctx context.Context, id int64) (*service.ProjectView, error)
	updateFn func(ctx context.Context, id int64, in service.UpdateProjectInput) error
}

func (s *stubProjectService) List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]service.ProjectView, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(ctx, kinds, statuses, limit, offset)
}

func (s *stubProjectService) Get(ctx context.Context, id int64) (*service.ProjectView, error) {
	if s.getFn == nil {
		return nil, errors.New("unexpected Get call")
	}
	return s.getFn(ctx, id)
}

func (s *stubProjectService) Update(ctx context.Context, id int64, in service.UpdateProjectInput) error {
	if s.updateFn == nil {
		return errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, id, in)
}

// withPathID injects a chi route parameter so handlers using URLParam can
// be exercised without a full router.
func withPathID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestListProjects_Filters(t *testing.T) {
	svc := &stubProjectService{
		listFn: func(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]service.ProjectView, error) {
			assert.Equal(t, []domain.TaskKind{domain.KindSegmentation2D}, kinds)
			assert.Equal(t, []domain.ProjectStatus{domain.ProjectStatusCompleted}, statuses)
			assert.Equal(t, 10, limit)
			assert.Equal(t, 20, offset)
			return []service.ProjectView{
				{Project: domain.Project{ID: 1, Name: "Survey"}},
			}, nil
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := httptest.NewRequest(http.MethodGet, "/project?type=2d_segmentation&status=completed&limit=10&offset=20", nil)
	rec := httptest.NewRecorder()
	handler.ListProjects(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListProjects_DefaultAndCappedPagination(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &stubProjectService{
		listFn: func(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]service.ProjectView, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	rec := httptest.NewRecorder()
	handler.ListProjects(rec, httptest.NewRequest(http.MethodGet, "/project", nil))
	assert.Equal(t, defaultPageSize, gotLimit)
	assert.Equal(t, 0, gotOffset)

	rec = httptest.NewRecorder()
	handler.ListProjects(rec, httptest.NewRequest(http.MethodGet, "/project?limit=9999", nil))
	assert.Equal(t, maxPageSize, gotLimit)
}

func TestListProjects_UnknownTypeFilter(t *testing.T) {
	handler := NewProjectHandler(&stubProjectService{}, &stubTaskService{})

	req := httptest.NewRequest(http.MethodGet, "/project?type=orthophoto", nil)
	rec := httptest.NewRecorder()
	handler.ListProjects(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProject_Success(t *testing.T) {
	svc := &stubProjectService{
		getFn: func(ctx context.Context, id int64) (*service.ProjectView, error) {
			assert.Equal(t, int64(11), id)
			return &service.ProjectView{
				Project:        domain.Project{ID: 11, Name: "Survey", Kind: domain.KindDetection2D},
				CoverImageLink: "https://cdn.example.com/geodata/cover.jpg",
			}, nil
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodGet, "/project/11", nil), "11")
	rec := httptest.NewRecorder()
	handler.GetProject(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/geodata/cover.jpg", data["cover_image_link"])
}

func TestGetProject_InvalidID(t *testing.T) {
	handler := NewProjectHandler(&stubProjectService{}, &stubTaskService{})

	for _, raw := range []string{"abc", "0", "-3"} {
		req := withPathID(httptest.NewRequest(http.MethodGet, "/project/"+raw, nil), raw)
		rec := httptest.NewRecorder()
		handler.GetProject(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	svc := &stubProjectService{
		getFn: func(ctx context.Context, id int64) (*service.ProjectView, error) {
			return nil, store.ErrProjectNotFound
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodGet, "/project/404", nil), "404")
	rec := httptest.NewRecorder()
	handler.GetProject(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateProject_Rename(t *testing.T) {
	var got service.UpdateProjectInput
	svc := &stubProjectService{
		updateFn: func(ctx context.Context, id int64, in service.UpdateProjectInput) error {
			got = in
			return nil
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodPut, "/project/11", strings.NewReader(`{"name":"Renamed survey"}`)), "11")
	rec := httptest.NewRecorder()
	handler.UpdateProject(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Renamed survey", *got.Name)
	assert.Nil(t, got.CoverImageID)
}

func TestUpdateProject_CoverImage(t *testing.T) {
	var got service.UpdateProjectInput
	svc := &stubProjectService{
		updateFn: func(ctx context.Context, id int64, in service.UpdateProjectInput) error {
			got = in
			return nil
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodPut, "/project/11", strings.NewReader(`{"cover_image_id":7}`)), "11")
	rec := httptest.NewRecorder()
	handler.UpdateProject(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.Name)
	require.NotNil(t, got.CoverImageID)
	assert.Equal(t, int64(7), *got.CoverImageID)
}

func TestUpdateProject_EmptyName(t *testing.T) {
	handler := NewProjectHandler(&stubProjectService{}, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodPut, "/project/11", strings.NewReader(`{"name":""}`)), "11")
	rec := httptest.NewRecorder()
	handler.UpdateProject(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProject_NoFields(t *testing.T) {
	svc := &stubProjectService{
		updateFn: func(ctx context.Context, id int64, in service.UpdateProjectInput) error {
			return fmt.Errorf("%w: nothing to update", domain.ErrValidation)
		},
	}
	handler := NewProjectHandler(svc, &stubTaskService{})

	req := withPathID(httptest.NewRequest(http.MethodPut, "/project/11", strings.NewReader(`{}`)), "11")
	rec := httptest.NewRecorder()
	handler.UpdateProject(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProject_Cascades(t *testing.T) {
	var deleted int64
	taskSvc := &stubTaskService{
		deleteProjectFn: func(ctx context.Context, projectID int64) error {
			deleted = projectID
			return nil
		},
	}
	handler := NewProjectHandler(&stubProjectService{}, taskSvc)

	req := withPathID(httptest.NewRequest(http.MethodDelete, "/project/11", nil), "11")
	rec := httptest.NewRecorder()
	handler.DeleteProject(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(11), deleted)
}
