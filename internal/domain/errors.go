package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrMissingKey is returned when a lookup is attempted with neither an
	// entity ID nor a project ID. Callers must supply at least one.
	ErrMissingKey = errors.New("either id or project_id must be provided")

	// ErrInvalidTaskKind is returned when a task kind is outside the closed
	// set of supported analysis kinds.
	ErrInvalidTaskKind = errors.New("invalid task kind")

	// ErrInvalidProjectStatus is returned when a project status is not valid.
	ErrInvalidProjectStatus = errors.New("invalid project status")

	// ErrInvalidOriginKind is returned when an object origin kind is not valid.
	ErrInvalidOriginKind = errors.New("invalid origin kind")

	// ErrKindMismatch is returned when a task is created under a project
	// whose type does not match the task's analysis kind.
	ErrKindMismatch = errors.New("project type does not match task kind")
)
