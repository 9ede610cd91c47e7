package domain

import (
	"time"
)

// ProjectStatus represents the processing state of a project's task.
type ProjectStatus string

// Possible project status values
const (
	ProjectStatusWaiting   ProjectStatus = "waiting"
	ProjectStatusRunning   ProjectStatus = "running"
	ProjectStatusCompleted ProjectStatus = "completed"
)

// DefaultProjectName is used when a project is created without a display name.
const DefaultProjectName = "Untitled project"

// Project is the user-facing grouping of a single analysis task plus
// presentation metadata. Each project owns exactly one task row in the
// kind-specific task table; that invariant is enforced by the service layer,
// not by the schema.
type Project struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Kind         TaskKind      `json:"type"`
	Status       ProjectStatus `json:"status"`
	CoverImageID *int64        `json:"cover_image_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewProject creates a Project in the waiting state for the given kind.
// An empty name falls back to DefaultProjectName.
func NewProject(kind TaskKind, name string, coverImageID *int64) (*Project, error) {
	if name == "" {
		name = DefaultProjectName
	}
	p := &Project{
		Name:         name,
		Kind:         kind,
		Status:       ProjectStatusWaiting,
		CoverImageID: coverImageID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks if the Project has valid data.
func (p *Project) Validate() error {
	if p.Name == "" {
		return ErrValidation
	}
	if !p.Kind.Valid() {
		return ErrInvalidTaskKind
	}
	if !isValidProjectStatus(p.Status) {
		return ErrInvalidProjectStatus
	}
	return nil
}

func isValidProjectStatus(status ProjectStatus) bool {
	switch status {
	case ProjectStatusWaiting, ProjectStatusRunning, ProjectStatusCompleted:
		return true
	default:
		return false
	}
}
