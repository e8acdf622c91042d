package lifecycle

import (
	"fmt"

	"job-lifecycle-service/internal/models"
)

// TransitionError is a guard failure with enough context to render a precise message.
// Err is models.ErrInvalidRole or models.ErrInvalidTransition.
type TransitionError struct {
	Err      error
	From     models.State
	To       models.State
	Actor    models.Role
	Required models.Role
	Stale    bool
}

func (e *TransitionError) Error() string {
	switch {
	case e.Required != "":
		return fmt.Sprintf("only the %s can %s", e.Required, actionLabel(e.To))
	case e.Err == models.ErrInvalidRole:
		return fmt.Sprintf("role %q cannot %s", e.Actor, actionLabel(e.To))
	case e.Stale:
		return fmt.Sprintf("the job is no longer %s", StatusLabel(e.From))
	case e.From.Terminal():
		return fmt.Sprintf("the job is already %s", StatusLabel(e.From))
	default:
		return fmt.Sprintf("cannot move a job from %s to %s", StatusLabel(e.From), StatusLabel(e.To))
	}
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *TransitionError) Code() string { return models.ErrorCode(e.Err) }
