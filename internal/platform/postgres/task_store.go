package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/logger"
	"github.com/terralens/terralens-api/internal/store"
)

// TaskStore persists the per-kind analysis task tables. One table per
// analysis kind mirrors the external schema contract; the typed methods
// below replace the dynamic row handling the tables were originally
// accessed with.
type TaskStore struct {
	db store.DBTX
}

// NewTaskStore creates a new TaskStore backed by the given connection or
// transaction.
func NewTaskStore(db store.DBTX) *TaskStore {
	return &TaskStore{db: db}
}

// WithTx returns a new TaskStore instance that uses the provided
// transaction. This allows a task insert to share a transaction with the
// project insert so both commit or roll back together.
func (s *TaskStore) WithTx(tx *sql.Tx) *TaskStore {
	return &TaskStore{db: tx}
}

// taskTables maps each kind to its table name, in AllTaskKinds order.
var taskTables = map[domain.TaskKind]string{
	domain.KindDetection2D:       "detection_2d_tasks",
	domain.KindSegmentation2D:    "segmentation_2d_tasks",
	domain.KindChangeDetection2D: "change_detection_2d_tasks",
	domain.KindSegmentation3D:    "segmentation_3d_tasks",
}

// CountByProject counts task rows referencing the project across all
// kind tables. The one-task-per-project invariant is enforced by callers
// checking this before insert.
func (s *TaskStore) CountByProject(ctx context.Context, projectID int64) (int64, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM detection_2d_tasks WHERE project_id = $1) +
			(SELECT COUNT(*) FROM segmentation_2d_tasks WHERE project_id = $1) +
			(SELECT COUNT(*) FROM change_detection_2d_tasks WHERE project_id = $1) +
			(SELECT COUNT(*) FROM segmentation_3d_tasks WHERE project_id = $1)
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, projectID).Scan(&count); err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// DeleteByProject removes the task rows owned by the project in the given
// kind's table, returning the number of rows removed. Cascading across all
// kinds is the caller's loop over AllTaskKinds, not a database cascade.
func (s *TaskStore) DeleteByProject(ctx context.Context, kind domain.TaskKind, projectID int64) (int64, error) {
	table, ok := taskTables[kind]
	if !ok {
		return 0, domain.ErrInvalidTaskKind
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE project_id = $1", table), projectID)
	if err != nil {
		return 0, MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// Delete removes one task row by ID from the given kind's table.
func (s *TaskStore) Delete(ctx context.Context, kind domain.TaskKind, id int64) error {
	table, ok := taskTables[kind]
	if !ok {
		return domain.ErrInvalidTaskKind
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		return MapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

//
// 2D detection
//

// CreateDetection2D inserts the task row and fills in its ID.
func (s *TaskStore) CreateDetection2D(ctx context.Context, t *domain.Detection2DTask) error {
	query := `
		INSERT INTO detection_2d_tasks (project_id, image_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query, t.ProjectID, t.ImageID, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert 2d detection task",
			"project_id", t.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

func scanDetection2D(row interface{ Scan(dest ...any) error }) (*domain.Detection2DTask, error) {
	var t domain.Detection2DTask
	err := row.Scan(&t.ID, &t.ProjectID, &t.ImageID, &t.PlotImageID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const detection2DColumns = "id, project_id, image_id, plot_image_id, created_at, updated_at"

// GetDetection2D retrieves one 2D detection task by ID.
func (s *TaskStore) GetDetection2D(ctx context.Context, id int64) (*domain.Detection2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM detection_2d_tasks WHERE id = $1", detection2DColumns)
	t, err := scanDetection2D(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return t, nil
}

// GetDetection2DByProject retrieves the 2D detection task owned by the project.
func (s *TaskStore) GetDetection2DByProject(ctx context.Context, projectID int64) (*domain.Detection2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM detection_2d_tasks WHERE project_id = $1", detection2DColumns)
	t, err := scanDetection2D(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return nil, fmt.Errorf("%w (project id %d)", MapError(err), projectID)
	}
	return t, nil
}

// CompleteDetection2D writes the completion fields for a 2D detection task.
func (s *TaskStore) CompleteDetection2D(ctx context.Context, id, plotImageID int64) error {
	query := `UPDATE detection_2d_tasks SET plot_image_id = $1, updated_at = $2 WHERE id = $3`
	return s.complete(ctx, query, id, plotImageID)
}

//
// 2D segmentation
//

// CreateSegmentation2D inserts the task row and fills in its ID.
func (s *TaskStore) CreateSegmentation2D(ctx context.Context, t *domain.Segmentation2DTask) error {
	query := `
		INSERT INTO segmentation_2d_tasks (project_id, image_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query, t.ProjectID, t.ImageID, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert 2d segmentation task",
			"project_id", t.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

func scanSegmentation2D(row interface{ Scan(dest ...any) error }) (*domain.Segmentation2DTask, error) {
	var t domain.Segmentation2DTask
	err := row.Scan(&t.ID, &t.ProjectID, &t.ImageID, &t.MaskImageID, &t.MaskSVGID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const segmentation2DColumns = "id, project_id, image_id, mask_image_id, mask_svg_id, created_at, updated_at"

// GetSegmentation2D retrieves one 2D segmentation task by ID.
func (s *TaskStore) GetSegmentation2D(ctx context.Context, id int64) (*domain.Segmentation2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM segmentation_2d_tasks WHERE id = $1", segmentation2DColumns)
	t, err := scanSegmentation2D(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return t, nil
}

// GetSegmentation2DByProject retrieves the 2D segmentation task owned by
// the project.
func (s *TaskStore) GetSegmentation2DByProject(ctx context.Context, projectID int64) (*domain.Segmentation2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM segmentation_2d_tasks WHERE project_id = $1", segmentation2DColumns)
	t, err := scanSegmentation2D(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return nil, fmt.Errorf("%w (project id %d)", MapError(err), projectID)
	}
	return t, nil
}

// CompleteSegmentation2D writes the completion fields for a 2D
// segmentation task.
func (s *TaskStore) CompleteSegmentation2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	query := `UPDATE segmentation_2d_tasks SET mask_image_id = $1, mask_svg_id = $2, updated_at = $3 WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, maskImageID, maskSVGID, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireTaskRow(result)
}

//
// 2D change detection
//

// CreateChangeDetection2D inserts the task row and fills in its ID.
func (s *TaskStore) CreateChangeDetection2D(ctx context.Context, t *domain.ChangeDetection2DTask) error {
	query := `
		INSERT INTO change_detection_2d_tasks (project_id, image1_id, image2_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query, t.ProjectID, t.Image1ID, t.Image2ID, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert 2d change detection task",
			"project_id", t.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

func scanChangeDetection2D(row interface{ Scan(dest ...any) error }) (*domain.ChangeDetection2DTask, error) {
	var t domain.ChangeDetection2DTask
	err := row.Scan(&t.ID, &t.ProjectID, &t.Image1ID, &t.Image2ID, &t.MaskImageID, &t.MaskSVGID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const changeDetection2DColumns = "id, project_id, image1_id, image2_id, mask_image_id, mask_svg_id, created_at, updated_at"

// GetChangeDetection2D retrieves one 2D change detection task by ID.
func (s *TaskStore) GetChangeDetection2D(ctx context.Context, id int64) (*domain.ChangeDetection2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM change_detection_2d_tasks WHERE id = $1", changeDetection2DColumns)
	t, err := scanChangeDetection2D(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return t, nil
}

// GetChangeDetection2DByProject retrieves the 2D change detection task
// owned by the project.
func (s *TaskStore) GetChangeDetection2DByProject(ctx context.Context, projectID int64) (*domain.ChangeDetection2DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM change_detection_2d_tasks WHERE project_id = $1", changeDetection2DColumns)
	t, err := scanChangeDetection2D(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return nil, fmt.Errorf("%w (project id %d)", MapError(err), projectID)
	}
	return t, nil
}

// CompleteChangeDetection2D writes the completion fields for a 2D change
// detection task.
func (s *TaskStore) CompleteChangeDetection2D(ctx context.Context, id, maskImageID, maskSVGID int64) error {
	query := `UPDATE change_detection_2d_tasks SET mask_image_id = $1, mask_svg_id = $2, updated_at = $3 WHERE id = $4`

	result, err := s.db.ExecContext(ctx, query, maskImageID, maskSVGID, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireTaskRow(result)
}

//
// 3D segmentation
//

// CreateSegmentation3D inserts the task row and fills in its ID.
func (s *TaskStore) CreateSegmentation3D(ctx context.Context, t *domain.Segmentation3DTask) error {
	query := `
		INSERT INTO segmentation_3d_tasks (project_id, pointcloud_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query, t.ProjectID, t.PointcloudID, t.CreatedAt, t.UpdatedAt).Scan(&t.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert 3d segmentation task",
			"project_id", t.ProjectID,
			"error", err)
		return MapError(err)
	}
	return nil
}

func scanSegmentation3D(row interface{ Scan(dest ...any) error }) (*domain.Segmentation3DTask, error) {
	var t domain.Segmentation3DTask
	err := row.Scan(&t.ID, &t.ProjectID, &t.PointcloudID, &t.ResultPointcloudID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const segmentation3DColumns = "id, project_id, pointcloud_id, result_pointcloud_id, created_at, updated_at"

// GetSegmentation3D retrieves one 3D segmentation task by ID.
func (s *TaskStore) GetSegmentation3D(ctx context.Context, id int64) (*domain.Segmentation3DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM segmentation_3d_tasks WHERE id = $1", segmentation3DColumns)
	t, err := scanSegmentation3D(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return t, nil
}

// GetSegmentation3DByProject retrieves the 3D segmentation task owned by
// the project.
func (s *TaskStore) GetSegmentation3DByProject(ctx context.Context, projectID int64) (*domain.Segmentation3DTask, error) {
	query := fmt.Sprintf("SELECT %s FROM segmentation_3d_tasks WHERE project_id = $1", segmentation3DColumns)
	t, err := scanSegmentation3D(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return nil, fmt.Errorf("%w (project id %d)", MapError(err), projectID)
	}
	return t, nil
}

// CompleteSegmentation3D writes the completion fields for a 3D
// segmentation task.
func (s *TaskStore) CompleteSegmentation3D(ctx context.Context, id, resultPointcloudID int64) error {
	query := `UPDATE segmentation_3d_tasks SET result_pointcloud_id = $1, updated_at = $2 WHERE id = $3`
	return s.complete(ctx, query, id, resultPointcloudID)
}

// complete runs a single-output completion update sharing the rows-affected
// check.
func (s *TaskStore) complete(ctx context.Context, query string, id, outputID int64) error {
	result, err := s.db.ExecContext(ctx, query, outputID, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireTaskRow(result)
}

func requireTaskRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}
