package domain

import "errors"

var (
	ErrNotFound            = errors.New("task not found")
	ErrMissingID           = errors.New("task id is required")
	ErrEmptyTitle          = errors.New("task title is empty")
	ErrMissingOrganization = errors.New("task organization is required")
	ErrInvalidStatus       = errors.New("invalid task status")
	ErrInvalidPriority     = errors.New("invalid task priority")
	ErrAlreadyExists       = errors.New("task already exists")

	// ErrStaleUpdate indicates that a newer write for the task is already persisted.
	ErrStaleUpdate = errors.New("stale task update")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because the entity changed since it was read.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
