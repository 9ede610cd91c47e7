package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/logger"
)

// ProjectServiceError is a custom error type for project service operations.
type ProjectServiceError struct {
	Operation string
	Message   string
	Err       error
}

func (e *ProjectServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("project service %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("project service %s: %s", e.Operation, e.Message)
}

func (e *ProjectServiceError) Unwrap() error {
	return e.Err
}

// ProjectView is a project enriched with a cover image share link.
type ProjectView struct {
	domain.Project
	CoverImageLink string `json:"cover_image_link,omitempty"`
}

// UpdateProjectInput carries the editable project fields. A nil field is
// left unchanged; at least one must be set.
type UpdateProjectInput struct {
	Name         *string
	CoverImageID *int64
}

// ProjectService exposes the read and presentation side of projects plus
// field edits. The lifecycle writes (creation, status transitions,
// cascading deletes) belong to TaskService, which owns the
// one-task-per-project invariant.
type ProjectService interface {
	List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]ProjectView, error)
	Get(ctx context.Context, id int64) (*ProjectView, error)
	Update(ctx context.Context, id int64, in UpdateProjectInput) error
}

type projectServiceImpl struct {
	projects ProjectRepository
	objects  ObjectRepository
	storage  Storage
	logger   *slog.Logger
}

// NewProjectService creates a new ProjectService.
// It returns an error if any of the required dependencies are nil.
func NewProjectService(
	projects ProjectRepository,
	objects ObjectRepository,
	storage Storage,
	log *slog.Logger,
) (ProjectService, error) {
	if projects == nil {
		return nil, fmt.Errorf("project repository cannot be nil")
	}
	if objects == nil {
		return nil, fmt.Errorf("object repository cannot be nil")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &projectServiceImpl{
		projects: projects,
		objects:  objects,
		storage:  storage,
		logger:   log.With(slog.String("component", "project_service")),
	}, nil
}

func (s *projectServiceImpl) List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]ProjectView, error) {
	projects, err := s.projects.List(ctx, kinds, statuses, limit, offset)
	if err != nil {
		return nil, &ProjectServiceError{Operation: "list", Message: "failed to list projects", Err: err}
	}
	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, s.view(ctx, p))
	}
	return views, nil
}

func (s *projectServiceImpl) Get(ctx context.Context, id int64) (*ProjectView, error) {
	p, err := s.projects.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := s.view(ctx, *p)
	return &view, nil
}

func (s *projectServiceImpl) Update(ctx context.Context, id int64, in UpdateProjectInput) error {
	if in.Name == nil && in.CoverImageID == nil {
		return fmt.Errorf("%w: nothing to update", domain.ErrValidation)
	}
	if in.Name != nil {
		if *in.Name == "" {
			return fmt.Errorf("%w: empty project name", domain.ErrValidation)
		}
		if err := s.projects.UpdateName(ctx, id, *in.Name); err != nil {
			return err
		}
	}
	if in.CoverImageID != nil {
		// The new cover must resolve to a stored image.
		if _, err := s.objects.GetImage(ctx, *in.CoverImageID); err != nil {
			return err
		}
		if err := s.projects.UpdateCoverImage(ctx, id, *in.CoverImageID); err != nil {
			return err
		}
	}
	return nil
}

// view attaches the cover image share link. A broken cover reference is
// logged and the project returned without a link.
func (s *projectServiceImpl) view(ctx context.Context, p domain.Project) ProjectView {
	view := ProjectView{Project: p}
	if p.CoverImageID == nil {
		return view
	}
	rec, err := s.objects.GetImage(ctx, *p.CoverImageID)
	if err != nil {
		logger.FromContext(ctx).Warn("failed to resolve project cover image",
			slog.Int64("project_id", p.ID),
			slog.Int64("cover_image_id", *p.CoverImageID),
			slog.String("error", err.Error()))
		return view
	}
	view.CoverImageLink = s.storage.ShareLink(rec.Object.Key())
	return view
}
