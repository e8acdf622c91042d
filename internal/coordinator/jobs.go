package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"job-lifecycle-service/internal/lifecycle"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
)

// CreateJob records a job posted by an employer.
func (s *Service) CreateJob(ctx context.Context, actor models.Actor, title string) (job models.Job, err error) {
	ctx, end := s.start(ctx, "create_job", attribute.String("actor.id", actor.UserID))
	defer end(&err)

	if actor.Role != models.RoleEmployer || actor.UserID == "" {
		return models.Job{}, fmt.Errorf("only employers post jobs: %w", models.ErrForbidden)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Job{}, models.Invalid("job title is required")
	}
	return s.store.CreateJob(ctx, store.CreateJobParams{Title: title, EmployerID: actor.UserID})
}

// ApplyToJob records a pending application from a worker and tells the employer.
func (s *Service) ApplyToJob(ctx context.Context, jobID string, worker models.Actor, message string) (app models.Application, err error) {
	ctx, end := s.start(ctx, "apply_to_job", attribute.String("job.id", jobID), attribute.String("actor.id", worker.UserID))
	defer end(&err)

	if worker.Role != models.RoleWorker || worker.UserID == "" {
		return models.Application{}, fmt.Errorf("only workers apply to jobs: %w", models.ErrForbidden)
	}
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) > s.maxMessageLength {
		return models.Application{}, models.Invalid("application message exceeds %d characters", s.maxMessageLength)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Application{}, err
	}
	if job.EmployerID == worker.UserID {
		return models.Application{}, fmt.Errorf("employer cannot apply to own job: %w", models.ErrForbidden)
	}
	if job.AssignedWorkerID != nil {
		return models.Application{}, fmt.Errorf("job %s already has a worker: %w", job.ID, models.ErrInvalidTransition)
	}

	app, err = s.store.CreateApplication(ctx, store.CreateApplicationParams{JobID: job.ID, WorkerID: worker.UserID, Message: message})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateApplication) {
			telemetry.ApplicationsTotal.WithLabelValues("duplicate").Inc()
		}
		return models.Application{}, err
	}
	telemetry.ApplicationsTotal.WithLabelValues("submitted").Inc()

	if _, nerr := s.notifier.ApplicationSubmitted(ctx, job, app); nerr != nil {
		s.notifyFailed(ctx, "apply_to_job", job.ID, nerr)
	}
	s.publish(ctx, realtime.EventApplicationCreated, realtime.UserTopic(job.EmployerID), app, nil)
	return app, nil
}

// ListApplications returns the applications for a job to its employer.
func (s *Service) ListApplications(ctx context.Context, jobID string, actor models.Actor) (apps []models.Application, err error) {
	ctx, end := s.start(ctx, "list_applications", attribute.String("job.id", jobID))
	defer end(&err)

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployerID != actor.UserID {
		return nil, fmt.Errorf("applications of job %s: %w", jobID, models.ErrForbidden)
	}
	return s.store.ListApplications(ctx, jobID)
}

// AcceptApplication assigns the worker, opens the chat and seeds the accepted state in one write,
// then tells the worker.
func (s *Service) AcceptApplication(ctx context.Context, applicationID, employerID string) (rec store.AcceptRecord, err error) {
	ctx, end := s.start(ctx, "accept_application", attribute.String("application.id", applicationID), attribute.String("actor.id", employerID))
	defer end(&err)

	rec, err = s.engine.Accept(ctx, applicationID, employerID)
	if err != nil {
		telemetry.TransitionRejects.WithLabelValues(models.ErrorCode(err)).Inc()
		return store.AcceptRecord{}, err
	}
	telemetry.ApplicationsTotal.WithLabelValues("accepted").Inc()
	telemetry.TransitionsTotal.WithLabelValues(string(models.StateAccepted)).Inc()

	s.publishEntry(ctx, rec.Entry)
	s.publishState(ctx, rec.State, rec.Change)
	if _, nerr := s.notifier.ApplicationDecided(ctx, rec.Job, rec.Application); nerr != nil {
		s.notifyFailed(ctx, "accept_application", rec.Job.ID, nerr)
	}
	s.publish(ctx, realtime.EventApplicationDecided, realtime.UserTopic(rec.Application.WorkerID), rec.Application, nil)
	return rec, nil
}

// RejectApplication declines a pending application and tells the worker.
func (s *Service) RejectApplication(ctx context.Context, applicationID, employerID string) (app models.Application, err error) {
	ctx, end := s.start(ctx, "reject_application", attribute.String("application.id", applicationID), attribute.String("actor.id", employerID))
	defer end(&err)

	app, err = s.store.RejectApplication(ctx, applicationID, employerID)
	if err != nil {
		return models.Application{}, err
	}
	telemetry.ApplicationsTotal.WithLabelValues("rejected").Inc()

	job, jerr := s.store.GetJob(ctx, app.JobID)
	if jerr == nil {
		_, jerr = s.notifier.ApplicationDecided(ctx, job, app)
	}
	if jerr != nil {
		s.notifyFailed(ctx, "reject_application", app.JobID, jerr)
	}
	s.publish(ctx, realtime.EventApplicationDecided, realtime.UserTopic(app.WorkerID), app, nil)
	return app, nil
}

// RequestTransition validates and applies one step of the job lifecycle, then notifies the
// counterpart and pushes the new entry and state to observers of the job.
func (s *Service) RequestTransition(ctx context.Context, req lifecycle.TransitionRequest) (res lifecycle.TransitionResult, err error) {
	ctx, end := s.start(ctx, "request_transition",
		attribute.String("job.id", req.JobID),
		attribute.String("actor.id", req.Actor.UserID),
		attribute.String("actor.role", string(req.Actor.Role)),
		attribute.String("transition.to", string(req.Target)))
	defer end(&err)

	res, err = s.engine.RequestTransition(ctx, req)
	if err != nil {
		telemetry.TransitionRejects.WithLabelValues(models.ErrorCode(err)).Inc()
		return lifecycle.TransitionResult{}, err
	}
	telemetry.TransitionsTotal.WithLabelValues(string(res.To)).Inc()

	s.publishEntry(ctx, res.Entry)
	s.publishState(ctx, res.State, res.Change)
	if _, nerr := s.notifier.Transition(ctx, res); nerr != nil {
		s.notifyFailed(ctx, "request_transition", res.Job.ID, nerr)
	}
	return res, nil
}

// CancelJob moves the job to cancelled on behalf of either party.
func (s *Service) CancelJob(ctx context.Context, jobID, applicationID string, actor models.Actor) (lifecycle.TransitionResult, error) {
	return s.RequestTransition(ctx, lifecycle.TransitionRequest{
		JobID:         jobID,
		ApplicationID: applicationID,
		Actor:         actor,
		Target:        models.StateCancelled,
	})
}

// Timeline is the job with its current state and full transition history.
type Timeline struct {
	Job     models.Job           `json:"job"`
	State   *models.JobState     `json:"state,omitempty"`
	Changes []models.StateChange `json:"changes"`
}

// JobTimeline returns the state history of a job to one of its parties.
func (s *Service) JobTimeline(ctx context.Context, jobID, viewerID string) (tl Timeline, err error) {
	ctx, end := s.start(ctx, "job_timeline", attribute.String("job.id", jobID))
	defer end(&err)

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return Timeline{}, err
	}
	if !job.IsParty(viewerID) {
		return Timeline{}, fmt.Errorf("job %s for %s: %w", jobID, viewerID, models.ErrNotFound)
	}
	tl.Job = job
	st, err := s.store.GetJobState(ctx, jobID)
	switch {
	case err == nil:
		tl.State = &st
	case !errors.Is(err, models.ErrNotFound):
		return Timeline{}, err
	}
	tl.Changes, err = s.store.ListStateChanges(ctx, jobID)
	if err != nil {
		return Timeline{}, err
	}
	return tl, nil
}
