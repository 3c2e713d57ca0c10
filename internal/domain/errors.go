package domain

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotRetryable = errors.New("job not retryable")
	// ErrStaleUpdate marks a write whose precondition no longer matches the stored job.
	ErrStaleUpdate = errors.New("stale update")
)
