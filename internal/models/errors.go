package models

import (
	"errors"
	"fmt"
)

// Guard and dependency errors shared by every layer. Callers match them with errors.Is.
var (
	ErrNotFound              = errors.New("lifecycle: not found")
	ErrForbidden             = errors.New("lifecycle: forbidden")
	ErrInvalidRole           = errors.New("lifecycle: invalid role for transition")
	ErrInvalidTransition     = errors.New("lifecycle: invalid transition")
	ErrDuplicateApplication  = errors.New("lifecycle: duplicate application")
	ErrDependencyUnavailable = errors.New("lifecycle: dependency unavailable")
	ErrInvalidInput          = errors.New("lifecycle: invalid input")
	ErrRateLimited           = errors.New("lifecycle: rate limited")

	// ErrStaleState is returned by stores when a compare-and-swap on the job state loses.
	ErrStaleState = errors.New("lifecycle: stale job state")
)

// Stable error codes exposed to presentation layers.
const (
	CodeNotFound              = "not_found"
	CodeForbidden             = "forbidden"
	CodeInvalidRole           = "invalid_role"
	CodeInvalidTransition     = "invalid_transition"
	CodeDuplicateApplication  = "duplicate_application"
	CodeDependencyUnavailable = "dependency_unavailable"
	CodeInvalidInput          = "invalid_input"
	CodeRateLimited           = "rate_limited"
	CodeInternal              = "internal"
)

// ErrorCode maps err onto its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidRole):
		return CodeInvalidRole
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleState):
		return CodeInvalidTransition
	case errors.Is(err, ErrDuplicateApplication):
		return CodeDuplicateApplication
	case errors.Is(err, ErrDependencyUnavailable):
		return CodeDependencyUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

// Unavailable wraps a storage or push failure so callers can classify it.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDependencyUnavailable, err)
}

// Invalid builds an ErrInvalidInput with a human readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
