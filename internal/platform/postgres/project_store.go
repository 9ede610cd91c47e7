package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/terralens/terralens-api/internal/domain"
	"github.com/terralens/terralens-api/internal/platform/logger"
	"github.com/terralens/terralens-api/internal/store"
)

// ProjectStore persists project rows.
type ProjectStore struct {
	db store.DBTX
}

// NewProjectStore creates a new ProjectStore backed by the given connection
// or transaction.
func NewProjectStore(db store.DBTX) *ProjectStore {
	return &ProjectStore{db: db}
}

// WithTx returns a new ProjectStore instance that uses the provided
// transaction.
func (s *ProjectStore) WithTx(tx *sql.Tx) *ProjectStore {
	return &ProjectStore{db: tx}
}

// Create inserts the project row and fills in its ID.
func (s *ProjectStore) Create(ctx context.Context, p *domain.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO projects (name, type, status, cover_image_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query,
		p.Name,
		p.Kind,
		p.Status,
		p.CoverImageID,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert project",
			"name", p.Name,
			"type", p.Kind,
			"error", err)
		return MapError(err)
	}

	return nil
}

const projectColumns = "id, name, type, status, cover_image_id, created_at, updated_at"

func scanProject(row interface{ Scan(dest ...any) error }) (*domain.Project, error) {
	var p domain.Project
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Kind,
		&p.Status,
		&p.CoverImageID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves one project by ID.
func (s *ProjectStore) GetByID(ctx context.Context, id int64) (*domain.Project, error) {
	query := fmt.Sprintf("SELECT %s FROM projects WHERE id = $1", projectColumns)

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%w (id %d)", MapError(err), id)
	}
	return p, nil
}

// List returns projects matching the given kinds and statuses, newest first.
// An empty kinds or statuses filter matches every value.
func (s *ProjectStore) List(ctx context.Context, kinds []domain.TaskKind, statuses []domain.ProjectStatus, limit, offset int) ([]domain.Project, error) {
	if len(kinds) == 0 {
		kinds = domain.AllTaskKinds
	}
	if len(statuses) == 0 {
		statuses = []domain.ProjectStatus{domain.ProjectStatusWaiting, domain.ProjectStatusRunning, domain.ProjectStatusCompleted}
	}

	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM projects WHERE type = ANY($1) AND status = ANY($2) ORDER BY created_at DESC LIMIT %d OFFSET %d",
		projectColumns, limit, offset)

	rows, err := s.db.QueryContext(ctx, query,
		"{"+strings.Join(kindStrs, ",")+"}",
		"{"+strings.Join(statusStrs, ",")+"}",
	)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, MapError(err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return projects, nil
}

// ListUnfinished returns all projects still in the waiting or running
// state, oldest first. The startup requeue sweep feeds these back onto
// the task queue.
func (s *ProjectStore) ListUnfinished(ctx context.Context) ([]domain.Project, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM projects WHERE status IN ('waiting', 'running') ORDER BY created_at ASC",
		projectColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, MapError(err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return projects, nil
}

// UpdateStatus transitions the project to the given status.
func (s *ProjectStore) UpdateStatus(ctx context.Context, id int64, status domain.ProjectStatus) error {
	query := `UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireProjectRow(result)
}

// UpdateName changes the project's display name.
func (s *ProjectStore) UpdateName(ctx context.Context, id int64, name string) error {
	query := `UPDATE projects SET name = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, name, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireProjectRow(result)
}

// UpdateCoverImage changes the project's cover image reference.
func (s *ProjectStore) UpdateCoverImage(ctx context.Context, id, coverImageID int64) error {
	query := `UPDATE projects SET cover_image_id = $1, updated_at = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, coverImageID, time.Now().UTC(), id)
	if err != nil {
		return MapError(err)
	}
	return requireProjectRow(result)
}

// Delete removes the project row. Task rows owned by the project go with
// it via the schema's cascade.
func (s *ProjectStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return MapError(err)
	}
	return requireProjectRow(result)
}

func requireProjectRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrProjectNotFound
	}
	return nil
}
