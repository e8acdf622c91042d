package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/store"
)

// Store is the persistence the engine needs. store.Postgres and store.Memory satisfy it.
type Store interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetApplication(ctx context.Context, id string) (models.Application, error)
	GetChatByApplication(ctx context.Context, applicationID string) (models.Chat, error)
	GetJobState(ctx context.Context, jobID string) (models.JobState, error)
	AcceptApplication(ctx context.Context, p store.AcceptParams) (store.AcceptRecord, error)
	ApplyTransition(ctx context.Context, p store.TransitionParams) (store.TransitionRecord, error)
}

// Engine validates transition requests against the table and applies them with a compare-and-swap.
type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(st Store, logger *slog.Logger) *Engine {
	return &Engine{store: st, logger: logger}
}

// TransitionRequest asks to move a job to Target on behalf of Actor.
type TransitionRequest struct {
	JobID         string
	ApplicationID string
	Actor         models.Actor
	Target        models.State
}

// TransitionResult is what a successful transition produced.
type TransitionResult struct {
	From  models.State
	To    models.State
	Actor models.Actor
	Job   models.Job
	Chat  models.Chat
	State models.JobState
	// Entry is the single system entry recorded with the transition.
	Entry  models.TranscriptEntry
	Change models.StateChange
}

// Accept accepts a pending application. The store creates the chat, seeds the accepted state and
// records the first system entry in one step.
func (e *Engine) Accept(ctx context.Context, applicationID, employerID string) (store.AcceptRecord, error) {
	rule, _ := Lookup(models.StateApplied, models.RoleEmployer)
	rec, err := e.store.AcceptApplication(ctx, store.AcceptParams{
		ApplicationID: applicationID,
		EmployerID:    employerID,
		Milestone:     rule.Milestone,
		Message:       SystemMessage(rule.To, models.RoleEmployer),
	})
	if err != nil {
		return store.AcceptRecord{}, err
	}
	e.logger.Info("application accepted", "job_id", rec.Job.ID, "application_id", rec.Application.ID, "chat_id", rec.Chat.ID)
	return rec, nil
}

// RequestTransition moves a job one step forward, or to cancelled, for a party of the job.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if !req.Target.Valid() {
		return TransitionResult{}, models.Invalid("unknown target state %q", req.Target)
	}
	if !req.Actor.Role.Valid() {
		return TransitionResult{}, &TransitionError{Err: models.ErrInvalidRole, To: req.Target, Actor: req.Actor.Role}
	}
	job, chat, current, err := e.resolve(ctx, req.JobID, req.ApplicationID, req.Actor)
	if err != nil {
		return TransitionResult{}, err
	}
	rule, err := Validate(current.State, req.Target, req.Actor.Role)
	if err != nil {
		return TransitionResult{}, err
	}

	rec, err := e.store.ApplyTransition(ctx, store.TransitionParams{
		JobID:           job.ID,
		ApplicationID:   chat.ApplicationID,
		ChatID:          chat.ID,
		ActorID:         req.Actor.UserID,
		From:            current.State,
		To:              rule.To,
		ExpectedVersion: current.Version,
		Milestone:       rule.Milestone,
		Message:         SystemMessage(rule.To, req.Actor.Role),
	})
	if errors.Is(err, models.ErrStaleState) {
		e.logger.Info("transition lost race", "job_id", job.ID, "from", current.State, "to", rule.To, "version", current.Version)
		return TransitionResult{}, &TransitionError{Err: models.ErrInvalidTransition, From: current.State, To: rule.To, Actor: req.Actor.Role, Stale: true}
	}
	if err != nil {
		return TransitionResult{}, err
	}

	e.logger.Info("job transitioned",
		"job_id", job.ID, "from", current.State, "to", rule.To, "version", rec.State.Version, "actor", req.Actor.UserID)
	return TransitionResult{
		From:   current.State,
		To:     rule.To,
		Actor:  req.Actor,
		Job:    rec.Job,
		Chat:   chat,
		State:  rec.State,
		Entry:  rec.Entry,
		Change: rec.Change,
	}, nil
}

// Cancel moves the job to cancelled for either party.
func (e *Engine) Cancel(ctx context.Context, jobID, applicationID string, actor models.Actor) (TransitionResult, error) {
	return e.RequestTransition(ctx, TransitionRequest{
		JobID:         jobID,
		ApplicationID: applicationID,
		Actor:         actor,
		Target:        models.StateCancelled,
	})
}

// resolve loads the job, its chat and current state, and reports ErrNotFound when the actor is not
// a party to the (job, accepted application) pair.
func (e *Engine) resolve(ctx context.Context, jobID, applicationID string, actor models.Actor) (models.Job, models.Chat, models.JobState, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, models.Chat{}, models.JobState{}, err
	}
	app, err := e.store.GetApplication(ctx, applicationID)
	if err != nil {
		return models.Job{}, models.Chat{}, models.JobState{}, err
	}
	if app.JobID != job.ID || app.Status != models.ApplicationAccepted {
		return models.Job{}, models.Chat{}, models.JobState{}, fmt.Errorf("accepted application %s for job %s: %w", applicationID, jobID, models.ErrNotFound)
	}
	if !isParty(job, app, actor) {
		return models.Job{}, models.Chat{}, models.JobState{}, fmt.Errorf("%s %s on job %s: %w", actor.Role, actor.UserID, jobID, models.ErrNotFound)
	}
	chat, err := e.store.GetChatByApplication(ctx, app.ID)
	if err != nil {
		return models.Job{}, models.Chat{}, models.JobState{}, err
	}
	st, err := e.store.GetJobState(ctx, job.ID)
	if err != nil {
		return models.Job{}, models.Chat{}, models.JobState{}, err
	}
	return job, chat, st, nil
}

func isParty(job models.Job, app models.Application, actor models.Actor) bool {
	switch actor.Role {
	case models.RoleEmployer:
		return job.EmployerID == actor.UserID
	case models.RoleWorker:
		return app.WorkerID == actor.UserID && job.AssignedWorkerID != nil && *job.AssignedWorkerID == actor.UserID
	}
	return false
}
