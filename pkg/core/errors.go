package core

import "errors"

// Validation errors are surfaced synchronously to the caller and never
// persisted.
var (
	ErrMissingType       = errors.New("taskmill: task type is required")
	ErrInvalidTaskType   = errors.New("taskmill: invalid task type (must be dot-segmented, start with a letter)")
	ErrTaskTypeTooLong   = errors.New("taskmill: task type too long")
	ErrPayloadTooLarge   = errors.New("taskmill: task payload exceeds size limit")
	ErrInvalidPriority   = errors.New("taskmill: unknown priority")
	ErrHandlerRequired   = errors.New("taskmill: local workers require a handler")
	ErrURLRequired       = errors.New("taskmill: remote workers require a url")
	ErrWorkerNameMissing = errors.New("taskmill: worker name is required")
	ErrPatternsRequired  = errors.New("taskmill: at least one task pattern is required")
)

// Lookup errors.
var (
	ErrTaskNotFound   = errors.New("taskmill: task not found")
	ErrWorkerNotFound = errors.New("taskmill: worker not found")
)

// Engine lifecycle errors.
var (
	ErrEngineStopped = errors.New("taskmill: engine is stopped")
)
