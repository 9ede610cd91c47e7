package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/store"
)

// TaskServiceError is a custom error type for task service errors.
type TaskServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for TaskServiceError.
func (e *TaskServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("task service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TaskServiceError) Unwrap() error {
	return e.Err
}

// NewTaskServiceError creates a new TaskServiceError.
func NewTaskServiceError(operation, message string, err error) *TaskServiceError {
	return &TaskServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// CreateTaskInput describes one task-create call. Exactly the input
// fields the kind needs must be set: ImageID for the 2D kinds, Image2ID
// additionally for change detection, PointcloudID for 3D segmentation.
type CreateTaskInput struct {
	Kind domain.TaskKind

	// ProjectID attaches the task to an existing project. When nil a new
	// project is created in the same transaction.
	ProjectID   *int64
	ProjectName string

	ImageID      int64
	Image2ID     int64
	PointcloudID int64
}

// CreateTaskResult reports the rows created by one task-create call.
type CreateTaskResult struct {
	TaskID    int64 `json:"id"`
	ProjectID int64 `json:"project_id"`
}

// TaskDetail is a task row enriched with its project and every asset
// foreign key resolved into a share-linked reference, keyed by role
// (image, plot_image, image1, image2, mask_image, mask_svg, pointcloud,
// result_pointcloud, cover_image).
type TaskDetail struct {
	Kind    domain.TaskKind            `json:"type"`
	Task    any                        `json:"task"`
	Project *domain.Project            `json:"project,omitempty"`
	Assets  map[string]domain.AssetRef `json:"assets"`
}

// TaskService owns the analysis task lifecycle: transactional creation
// with queueing after commit, lookup with foreign-key expansion, deletion
// with cascade, completion writes, and the startup requeue sweep.
type TaskService interface {
	// Create inserts the task row (and, when no project is given, its
	// project) in one transaction and enqueues a descriptor after commit.
	Create(ctx context.Context, in CreateTaskInput) (*CreateTaskResult, error)

	// Get fetches one task by id or by owning project. At least one key
	// must be provided.
	Get(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*TaskDetail, error)

	// Delete removes the task row(s) by id or owning project and reaps
	// output assets best-effort. At least one key must be provided.
	Delete(ctx context.Context, kind domain.TaskKind, id, projectID *int64) error

	// DeleteProject cascades over every task kind owned by the project
	// and then removes the project itself.
	DeleteProject(ctx context.Context, projectID int64) error

	// MarkRunning flips the owning project to the running state when a
	// worker picks the task up.
	MarkRunning(ctx context.Context, projectID int64) error

	// Completion writes: record output asset ids and flip the project to
	// completed, atomically.
	CompleteDetection2D(ctx context.Context, taskID, projectID, plotImageID int64) error
	CompleteSegmentation2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error
	CompleteChangeDetection2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error
	CompleteSegmentation3D(ctx context.Context, taskID, projectID, resultPointcloudID int64) error

	// RequeueUnfinished re-enqueues a descriptor for every project still
	// waiting or running, oldest first. Run once at startup to recover
	// work lost to a crash between pop and completion.
	RequeueUnfinished(ctx context.Context) (int, error)
}

type taskServiceImpl struct {
	db       *sql.DB
	projects ProjectRepository
	tasks    TaskRepository
	objects  ObjectRepository
	assets   AssetService
	queue    TaskQueue
	logger   *slog.Logger
}

// NewTaskService creates a new TaskService.
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	db *sql.DB,
	projects ProjectRepository,
	tasks TaskRepository,
	objects ObjectRepository,
	assetSvc AssetService,
	queue TaskQueue,
	logger *slog.Logger,
) (TaskService, error) {
	if db == nil {
		return nil, NewTaskServiceError("init", "db cannot be nil", domain.ErrValidation)
	}
	if projects == nil {
		return nil, NewTaskServiceError("init", "projects cannot be nil", domain.ErrValidation)
	}
	if tasks == nil {
		return nil, NewTaskServiceError("init", "tasks cannot be nil", domain.ErrValidation)
	}
	if objects == nil {
		return nil, NewTaskServiceError("init", "objects cannot be nil", domain.ErrValidation)
	}
	if assetSvc == nil {
		return nil, NewTaskServiceError("init", "assetSvc cannot be nil", domain.ErrValidation)
	}
	if queue == nil {
		return nil, NewTaskServiceError("init", "queue cannot be nil", domain.ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &taskServiceImpl{
		db:       db,
		projects: projects,
		tasks:    tasks,
		objects:  objects,
		assets:   assetSvc,
		queue:    queue,
		logger:   logger.With(slog.String("component", "task_service")),
	}, nil
}

// Create implements TaskService.Create. The project lookup-or-create and
// the task insert share one transaction so a failed task insert rolls the
// new project back with it. The queue push happens strictly after commit;
// a worker must never observe a descriptor for an uncommitted row.
func (s *taskServiceImpl) Create(ctx context.Context, in CreateTaskInput) (*CreateTaskResult, error) {
	if !in.Kind.Valid() {
		return nil, domain.ErrInvalidTaskKind
	}
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	var result CreateTaskResult
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		projects := s.projects.WithTx(tx)
		tasks := s.tasks.WithTx(tx)

		var project *domain.Project
		if in.ProjectID != nil {
			existing, err := projects.GetByID(ctx, *in.ProjectID)
			if err != nil {
				return err
			}
			if existing.Kind != in.Kind {
				return domain.ErrKindMismatch
			}
			project = existing
		} else {
			coverImageID, err := s.coverImageID(ctx, tx, in)
			if err != nil {
				return err
			}
			p, err := domain.NewProject(in.Kind, in.ProjectName, coverImageID)
			if err != nil {
				return err
			}
			if err := projects.Create(ctx, p); err != nil {
				return err
			}
			project = p
		}

		count, err := tasks.CountByProject(ctx, project.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w (project id %d)", store.ErrTaskExists, project.ID)
		}

		taskID, err := s.insertTask(ctx, tasks, in, project.ID)
		if err != nil {
			return err
		}

		result = CreateTaskResult{TaskID: taskID, ProjectID: project.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	desc := domain.Descriptor{Kind: in.Kind, ID: result.TaskID, ProjectID: result.ProjectID}
	if err := s.queue.Push(ctx, desc); err != nil {
		// The row is committed and in the waiting state; the startup
		// requeue sweep will pick it up even though this push failed.
		s.logger.Error("failed to enqueue task descriptor",
			"type", in.Kind,
			"task_id", result.TaskID,
			"project_id", result.ProjectID,
			"error", err)
		return nil, NewTaskServiceError("create", "task created but enqueue failed", err)
	}

	s.logger.Info("task created",
		"type", in.Kind,
		"task_id", result.TaskID,
		"project_id", result.ProjectID)
	return &result, nil
}

func validateCreateInput(in CreateTaskInput) error {
	switch in.Kind {
	case domain.KindDetection2D, domain.KindSegmentation2D:
		if in.ImageID == 0 {
			return fmt.Errorf("%w: image_id is required", domain.ErrValidation)
		}
	case domain.KindChangeDetection2D:
		if in.ImageID == 0 || in.Image2ID == 0 {
			return fmt.Errorf("%w: image1_id and image2_id are required", domain.ErrValidation)
		}
	case domain.KindSegmentation3D:
		if in.PointcloudID == 0 {
			return fmt.Errorf("%w: pointcloud_id is required", domain.ErrValidation)
		}
	}
	return nil
}

// coverImageID derives a new project's cover from the primary input
// asset, preferring the asset's thumbnail when it has one. Point-cloud
// projects have no image to cover them.
func (s *taskServiceImpl) coverImageID(ctx context.Context, tx *sql.Tx, in CreateTaskInput) (*int64, error) {
	if in.Kind == domain.KindSegmentation3D {
		return nil, nil
	}

	rec, err := s.objects.WithTx(tx).GetImage(ctx, in.ImageID)
	if err != nil {
		return nil, err
	}
	if rec.Image.ThumbnailID != nil {
		return rec.Image.ThumbnailID, nil
	}
	id := rec.Image.ID
	return &id, nil
}

func (s *taskServiceImpl) insertTask(ctx context.Context, tasks TaskRepository, in CreateTaskInput, projectID int64) (int64, error) {
	switch in.Kind {
	case domain.KindDetection2D:
		t := &domain.Detection2DTask{ProjectID: projectID, ImageID: in.ImageID}
		if err := tasks.CreateDetection2D(ctx, t); err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindSegmentation2D:
		t := &domain.Segmentation2DTask{ProjectID: projectID, ImageID: in.ImageID}
		if err := tasks.CreateSegmentation2D(ctx, t); err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindChangeDetection2D:
		t := &domain.ChangeDetection2DTask{ProjectID: projectID, Image1ID: in.ImageID, Image2ID: in.Image2ID}
		if err := tasks.CreateChangeDetection2D(ctx, t); err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindSegmentation3D:
		t := &domain.Segmentation3DTask{ProjectID: projectID, PointcloudID: in.PointcloudID}
		if err := tasks.CreateSegmentation3D(ctx, t); err != nil {
			return 0, err
		}
		return t.ID, nil
	default:
		return 0, domain.ErrInvalidTaskKind
	}
}

// Get implements TaskService.Get. The missing-key check runs before any
// database access.
func (s *taskServiceImpl) Get(ctx context.Context, kind domain.TaskKind, id, projectID *int64) (*TaskDetail, error) {
	if id == nil && projectID == nil {
		return nil, domain.ErrMissingKey
	}
	if !kind.Valid() {
		return nil, domain.ErrInvalidTaskKind
	}

	detail := &TaskDetail{Kind: kind, Assets: make(map[string]domain.AssetRef)}

	var ownerID int64
	switch kind {
	case domain.KindDetection2D:
		t, err := s.getDetection2D(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		ownerID = t.ProjectID
		detail.Task = t
		s.expandImage(ctx, detail.Assets, "image", &t.ImageID)
		s.expandImage(ctx, detail.Assets, "plot_image", t.PlotImageID)

	case domain.KindSegmentation2D:
		t, err := s.getSegmentation2D(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		ownerID = t.ProjectID
		detail.Task = t
		s.expandImage(ctx, detail.Assets, "image", &t.ImageID)
		s.expandImage(ctx, detail.Assets, "mask_image", t.MaskImageID)
		s.expandImage(ctx, detail.Assets, "mask_svg", t.MaskSVGID)

	case domain.KindChangeDetection2D:
		t, err := s.getChangeDetection2D(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		ownerID = t.ProjectID
		detail.Task = t
		s.expandImage(ctx, detail.Assets, "image1", &t.Image1ID)
		s.expandImage(ctx, detail.Assets, "image2", &t.Image2ID)
		s.expandImage(ctx, detail.Assets, "mask_image", t.MaskImageID)
		s.expandImage(ctx, detail.Assets, "mask_svg", t.MaskSVGID)

	case domain.KindSegmentation3D:
		t, err := s.getSegmentation3D(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		ownerID = t.ProjectID
		detail.Task = t
		s.expandPointcloud(ctx, detail.Assets, "pointcloud", &t.PointcloudID)
		s.expandPointcloud(ctx, detail.Assets, "result_pointcloud", t.ResultPointcloudID)
	}

	project, err := s.projects.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	detail.Project = project
	s.expandImage(ctx, detail.Assets, "cover_image", project.CoverImageID)

	return detail, nil
}

// expandImage resolves an image foreign key into the assets map. Missing
// references are logged and skipped; a dangling output id must not make
// the whole task unreadable.
func (s *taskServiceImpl) expandImage(ctx context.Context, out map[string]domain.AssetRef, role string, id *int64) {
	if id == nil {
		return
	}
	ref, err := s.assets.ImageRef(ctx, *id)
	if err != nil {
		s.logger.Warn("failed to resolve image reference", "role", role, "image_id", *id, "error", err)
		return
	}
	out[role] = ref
}

func (s *taskServiceImpl) expandPointcloud(ctx context.Context, out map[string]domain.AssetRef, role string, id *int64) {
	if id == nil {
		return
	}
	ref, err := s.assets.PointcloudRef(ctx, *id)
	if err != nil {
		s.logger.Warn("failed to resolve pointcloud reference", "role", role, "pointcloud_id", *id, "error", err)
		return
	}
	out[role] = ref
}

func (s *taskServiceImpl) getDetection2D(ctx context.Context, id, projectID *int64) (*domain.Detection2DTask, error) {
	if id != nil {
		return s.tasks.GetDetection2D(ctx, *id)
	}
	return s.tasks.GetDetection2DByProject(ctx, *projectID)
}

func (s *taskServiceImpl) getSegmentation2D(ctx context.Context, id, projectID *int64) (*domain.Segmentation2DTask, error) {
	if id != nil {
		return s.tasks.GetSegmentation2D(ctx, *id)
	}
	return s.tasks.GetSegmentation2DByProject(ctx, *projectID)
}

func (s *taskServiceImpl) getChangeDetection2D(ctx context.Context, id, projectID *int64) (*domain.ChangeDetection2DTask, error) {
	if id != nil {
		return s.tasks.GetChangeDetection2D(ctx, *id)
	}
	return s.tasks.GetChangeDetection2DByProject(ctx, *projectID)
}

func (s *taskServiceImpl) getSegmentation3D(ctx context.Context, id, projectID *int64) (*domain.Segmentation3DTask, error) {
	if id != nil {
		return s.tasks.GetSegmentation3D(ctx, *id)
	}
	return s.tasks.GetSegmentation3DByProject(ctx, *projectID)
}

// Delete implements TaskService.Delete. Output assets are reaped
// best-effort after the row delete; a failed storage delete does not
// resurrect the task.
func (s *taskServiceImpl) Delete(ctx context.Context, kind domain.TaskKind, id, projectID *int64) error {
	if id == nil && projectID == nil {
		return domain.ErrMissingKey
	}
	if !kind.Valid() {
		return domain.ErrInvalidTaskKind
	}

	outputs, taskID, err := s.collectOutputs(ctx, kind, id, projectID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return err
		}
		return NewTaskServiceError("delete", "failed to resolve task", err)
	}

	if err := s.tasks.Delete(ctx, kind, taskID); err != nil {
		return err
	}
	s.reapOutputs(ctx, outputs)
	return nil
}

// DeleteProject implements TaskService.DeleteProject. The cascade tries
// every kind table in turn; ownership is enforced by application logic,
// not by schema, so the project's kind alone is not trusted.
func (s *taskServiceImpl) DeleteProject(ctx context.Context, projectID int64) error {
	for _, kind := range domain.AllTaskKinds {
		outputs, _, err := s.collectOutputs(ctx, kind, nil, &projectID)
		if err != nil {
			if store.IsNotFoundError(err) {
				continue
			}
			return NewTaskServiceError("delete_project", "failed to resolve task", err)
		}
		if _, err := s.tasks.DeleteByProject(ctx, kind, projectID); err != nil {
			return err
		}
		s.reapOutputs(ctx, outputs)
	}
	return s.projects.Delete(ctx, projectID)
}

// assetOutput identifies one reapable output asset.
type assetOutput struct {
	imageID      *int64
	pointcloudID *int64
}

func (s *taskServiceImpl) collectOutputs(ctx context.Context, kind domain.TaskKind, id, projectID *int64) ([]assetOutput, int64, error) {
	switch kind {
	case domain.KindDetection2D:
		t, err := s.getDetection2D(ctx, id, projectID)
		if err != nil {
			return nil, 0, err
		}
		return []assetOutput{{imageID: t.PlotImageID}}, t.ID, nil
	case domain.KindSegmentation2D:
		t, err := s.getSegmentation2D(ctx, id, projectID)
		if err != nil {
			return nil, 0, err
		}
		return []assetOutput{{imageID: t.MaskImageID}, {imageID: t.MaskSVGID}}, t.ID, nil
	case domain.KindChangeDetection2D:
		t, err := s.getChangeDetection2D(ctx, id, projectID)
		if err != nil {
			return nil, 0, err
		}
		return []assetOutput{{imageID: t.MaskImageID}, {imageID: t.MaskSVGID}}, t.ID, nil
	case domain.KindSegmentation3D:
		t, err := s.getSegmentation3D(ctx, id, projectID)
		if err != nil {
			return nil, 0, err
		}
		return []assetOutput{{pointcloudID: t.ResultPointcloudID}}, t.ID, nil
	default:
		return nil, 0, domain.ErrInvalidTaskKind
	}
}

func (s *taskServiceImpl) reapOutputs(ctx context.Context, outputs []assetOutput) {
	for _, out := range outputs {
		switch {
		case out.imageID != nil:
			rec, err := s.objects.GetImage(ctx, *out.imageID)
			if err != nil {
				continue
			}
			if err := s.assets.DeleteObject(ctx, rec.Object.ID); err != nil {
				s.logger.Warn("failed to reap output image", "image_id", *out.imageID, "error", err)
			}
		case out.pointcloudID != nil:
			rec, err := s.objects.GetPointcloud(ctx, *out.pointcloudID)
			if err != nil {
				continue
			}
			if err := s.assets.DeleteObject(ctx, rec.Object.ID); err != nil {
				s.logger.Warn("failed to reap output pointcloud", "pointcloud_id", *out.pointcloudID, "error", err)
			}
		}
	}
}

// MarkRunning implements TaskService.MarkRunning.
func (s *taskServiceImpl) MarkRunning(ctx context.Context, projectID int64) error {
	return s.projects.UpdateStatus(ctx, projectID, domain.ProjectStatusRunning)
}

// CompleteDetection2D implements TaskService.CompleteDetection2D.
func (s *taskServiceImpl) CompleteDetection2D(ctx context.Context, taskID, projectID, plotImageID int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).CompleteDetection2D(ctx, taskID, plotImageID); err != nil {
			return err
		}
		return s.projects.WithTx(tx).UpdateStatus(ctx, projectID, domain.ProjectStatusCompleted)
	})
}

// CompleteSegmentation2D implements TaskService.CompleteSegmentation2D.
func (s *taskServiceImpl) CompleteSegmentation2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).CompleteSegmentation2D(ctx, taskID, maskImageID, maskSVGID); err != nil {
			return err
		}
		return s.projects.WithTx(tx).UpdateStatus(ctx, projectID, domain.ProjectStatusCompleted)
	})
}

// CompleteChangeDetection2D implements TaskService.CompleteChangeDetection2D.
func (s *taskServiceImpl) CompleteChangeDetection2D(ctx context.Context, taskID, projectID, maskImageID, maskSVGID int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).CompleteChangeDetection2D(ctx, taskID, maskImageID, maskSVGID); err != nil {
			return err
		}
		return s.projects.WithTx(tx).UpdateStatus(ctx, projectID, domain.ProjectStatusCompleted)
	})
}

// CompleteSegmentation3D implements TaskService.CompleteSegmentation3D.
func (s *taskServiceImpl) CompleteSegmentation3D(ctx context.Context, taskID, projectID, resultPointcloudID int64) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.tasks.WithTx(tx).CompleteSegmentation3D(ctx, taskID, resultPointcloudID); err != nil {
			return err
		}
		return s.projects.WithTx(tx).UpdateStatus(ctx, projectID, domain.ProjectStatusCompleted)
	})
}

// RequeueUnfinished implements TaskService.RequeueUnfinished. A project
// whose task row is missing is logged and skipped; it can never run.
func (s *taskServiceImpl) RequeueUnfinished(ctx context.Context) (int, error) {
	projects, err := s.projects.ListUnfinished(ctx)
	if err != nil {
		return 0, NewTaskServiceError("requeue", "failed to list unfinished projects", err)
	}

	requeued := 0
	for _, p := range projects {
		taskID, err := s.taskIDByProject(ctx, p.Kind, p.ID)
		if err != nil {
			s.logger.Warn("unfinished project has no task row, skipping",
				"project_id", p.ID,
				"type", p.Kind,
				"error", err)
			continue
		}

		desc := domain.Descriptor{Kind: p.Kind, ID: taskID, ProjectID: p.ID}
		if err := s.queue.Push(ctx, desc); err != nil {
			return requeued, NewTaskServiceError("requeue", "failed to enqueue descriptor", err)
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("requeued unfinished tasks", "count", requeued)
	}
	return requeued, nil
}

func (s *taskServiceImpl) taskIDByProject(ctx context.Context, kind domain.TaskKind, projectID int64) (int64, error) {
	switch kind {
	case domain.KindDetection2D:
		t, err := s.tasks.GetDetection2DByProject(ctx, projectID)
		if err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindSegmentation2D:
		t, err := s.tasks.GetSegmentation2DByProject(ctx, projectID)
		if err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindChangeDetection2D:
		t, err := s.tasks.GetChangeDetection2DByProject(ctx, projectID)
		if err != nil {
			return 0, err
		}
		return t.ID, nil
	case domain.KindSegmentation3D:
		t, err := s.tasks.GetSegmentation3DByProject(ctx, projectID)
		if err != nil {
			return 0, err
		}
		return t.ID, nil
	default:
		return 0, domain.ErrInvalidTaskKind
	}
}
