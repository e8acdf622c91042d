// Package lifecycle holds the role-gated job state machine.
package lifecycle

import (
	"job-lifecycle-service/internal/models"
)

// Rule is one allowed edge of the state machine.
type Rule struct {
	From      models.State     `json:"from"`
	To        models.State     `json:"to"`
	Role      models.Role      `json:"role"`
	Milestone models.Milestone `json:"milestone,omitempty"`
}

type ruleKey struct {
	from models.State
	role models.Role
}

// table is keyed by (from, role). Each key has at most one target, so the machine never branches.
var table = map[ruleKey]Rule{
	{models.StateApplied, models.RoleEmployer}: {
		From: models.StateApplied, To: models.StateAccepted, Role: models.RoleEmployer, Milestone: models.MilestoneWorkerAssigned,
	},
	{models.StateAccepted, models.RoleWorker}: {
		From: models.StateAccepted, To: models.StateEnRoute, Role: models.RoleWorker,
	},
	{models.StateEnRoute, models.RoleWorker}: {
		From: models.StateEnRoute, To: models.StateInProgress, Role: models.RoleWorker, Milestone: models.MilestoneWorkerStarted,
	},
	{models.StateInProgress, models.RoleWorker}: {
		From: models.StateInProgress, To: models.StateCompleted, Role: models.RoleWorker, Milestone: models.MilestoneWorkCompleted,
	},
	{models.StateCompleted, models.RoleEmployer}: {
		From: models.StateCompleted, To: models.StateConfirmed, Role: models.RoleEmployer, Milestone: models.MilestoneEmployerApproved,
	},
}

// Lookup returns the edge role may take from state from.
func Lookup(from models.State, role models.Role) (Rule, bool) {
	r, ok := table[ruleKey{from, role}]
	return r, ok
}

// Rules returns every edge in forward order.
func Rules() []Rule {
	out := make([]Rule, 0, len(table))
	for _, s := range []models.State{
		models.StateApplied, models.StateAccepted, models.StateEnRoute, models.StateInProgress, models.StateCompleted,
	} {
		for _, role := range []models.Role{models.RoleEmployer, models.RoleWorker} {
			if r, ok := Lookup(s, role); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// NextFor returns the state role would move the job to from current, if any.
func NextFor(current models.State, role models.Role) (models.State, bool) {
	r, ok := Lookup(current, role)
	return r.To, ok
}

// Validate checks current → target for role. A pair that is not an edge is ErrInvalidTransition;
// an edge that belongs to the other role is ErrInvalidRole.
func Validate(current, target models.State, role models.Role) (Rule, error) {
	if target == models.StateCancelled {
		return ValidateCancel(current, role)
	}
	if !role.Valid() {
		return Rule{}, &TransitionError{Err: models.ErrInvalidRole, From: current, To: target, Actor: role}
	}
	if r, ok := Lookup(current, role); ok && r.To == target {
		return r, nil
	}
	other := Counterpart(role)
	if r, ok := Lookup(current, other); ok && r.To == target {
		return Rule{}, &TransitionError{Err: models.ErrInvalidRole, From: current, To: target, Actor: role, Required: other}
	}
	return Rule{}, &TransitionError{Err: models.ErrInvalidTransition, From: current, To: target, Actor: role}
}

// ValidateCancel allows either party to cancel once a worker is assigned and before a terminal state.
func ValidateCancel(current models.State, role models.Role) (Rule, error) {
	if !role.Valid() {
		return Rule{}, &TransitionError{Err: models.ErrInvalidRole, From: current, To: models.StateCancelled, Actor: role}
	}
	if current.Rank() < models.StateAccepted.Rank() || current.Terminal() {
		return Rule{}, &TransitionError{Err: models.ErrInvalidTransition, From: current, To: models.StateCancelled, Actor: role}
	}
	return Rule{From: current, To: models.StateCancelled, Role: role, Milestone: models.MilestoneCancelled}, nil
}

// Counterpart returns the other side of a job.
func Counterpart(role models.Role) models.Role {
	if role == models.RoleWorker {
		return models.RoleEmployer
	}
	return models.RoleWorker
}
