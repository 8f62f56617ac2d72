package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrMalformedResponse indicates an upstream payload that does not match
	// the expected shape. It is never retried.
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrAnalysisUnavailable indicates the expensive analysis call failed for
	// one article. It is surfaced per article and never fails a batch.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrClosed indicates an operation on a component that has been shut down.
	ErrClosed = errors.New("component closed")
)

// ValidationError represents a validation error with detailed field information.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}
