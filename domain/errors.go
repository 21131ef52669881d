package domain

import "errors"

// ErrNotFound deliberately covers both a missing resource and a resource the
// caller may not see, so existence of a board is never revealed to outsiders.
var ErrNotFound = errors.New("not found or access denied")

// ErrConcurrencyConflict indicates that the underlying storage rejected an
// update because the entity changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Message: msg}
}
