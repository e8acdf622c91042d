// Package notify creates per-recipient notification records and pushes them to the recipient.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"job-lifecycle-service/internal/lifecycle"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
)

const previewLength = 120

// Store is the persistence the dispatcher needs.
type Store interface {
	CreateNotification(ctx context.Context, p store.CreateNotificationParams) (models.Notification, error)
}

// Dispatcher creates notifications. Recipients for job events are resolved from the job record.
type Dispatcher struct {
	store  Store
	pub    realtime.Publisher
	logger *slog.Logger
}

func NewDispatcher(st Store, pub realtime.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: st, pub: pub, logger: logger}
}

// Params describes one notification.
type Params struct {
	RecipientID string
	JobID       string
	Type        models.NotificationType
	Title       string
	Body        string
}

// Notify stores a notification and pushes notification.created to the recipient's topic.
// A push failure is logged and does not fail the call.
func (d *Dispatcher) Notify(ctx context.Context, p Params) (models.Notification, error) {
	if p.RecipientID == "" {
		return models.Notification{}, fmt.Errorf("notification recipient: %w", models.ErrNotFound)
	}
	n, err := d.store.CreateNotification(ctx, store.CreateNotificationParams{
		RecipientID: p.RecipientID,
		JobID:       p.JobID,
		Type:        p.Type,
		Title:       p.Title,
		Body:        p.Body,
	})
	if err != nil {
		return models.Notification{}, err
	}
	telemetry.NotificationsTotal.WithLabelValues(string(n.Type)).Inc()

	if d.pub != nil {
		evt, err := realtime.NewEvent(realtime.EventNotificationCreated, realtime.UserTopic(n.RecipientID), n)
		if err == nil {
			err = d.pub.Publish(ctx, evt)
		}
		if err != nil {
			telemetry.PushFailures.Inc()
			d.logger.Warn("push notification failed", "notification_id", n.ID, "recipient", n.RecipientID, "error", err)
		}
	}
	return n, nil
}

// Counterpart returns the party of job who is not actorID.
func Counterpart(job models.Job, actorID string) (string, error) {
	if job.AssignedWorkerID == nil {
		return "", fmt.Errorf("job %s has no assigned worker: %w", job.ID, models.ErrNotFound)
	}
	switch actorID {
	case job.EmployerID:
		return *job.AssignedWorkerID, nil
	case *job.AssignedWorkerID:
		return job.EmployerID, nil
	}
	return "", fmt.Errorf("%s is not a party to job %s: %w", actorID, job.ID, models.ErrNotFound)
}

// Transition notifies the counterpart of the actor that the job changed state.
func (d *Dispatcher) Transition(ctx context.Context, res lifecycle.TransitionResult) (models.Notification, error) {
	recipient, err := Counterpart(res.Job, res.Actor.UserID)
	if err != nil {
		return models.Notification{}, err
	}
	return d.Notify(ctx, Params{
		RecipientID: recipient,
		JobID:       res.Job.ID,
		Type:        models.NotificationStateChange,
		Title:       fmt.Sprintf("%s is now %s", res.Job.Title, lifecycle.StatusLabel(res.To)),
		Body:        lifecycle.SystemMessage(res.To, res.Actor.Role),
	})
}

// Message notifies the counterpart of the entry's author.
func (d *Dispatcher) Message(ctx context.Context, job models.Job, entry models.TranscriptEntry) (models.Notification, error) {
	if entry.AuthorID == nil {
		return models.Notification{}, fmt.Errorf("entry %s has no author: %w", entry.ID, models.ErrNotFound)
	}
	recipient, err := Counterpart(job, *entry.AuthorID)
	if err != nil {
		return models.Notification{}, err
	}
	return d.Notify(ctx, Params{
		RecipientID: recipient,
		JobID:       job.ID,
		Type:        models.NotificationMessage,
		Title:       "New message about " + job.Title,
		Body:        Preview(entry),
	})
}

// ApplicationSubmitted tells the employer a worker applied.
func (d *Dispatcher) ApplicationSubmitted(ctx context.Context, job models.Job, app models.Application) (models.Notification, error) {
	return d.Notify(ctx, Params{
		RecipientID: job.EmployerID,
		JobID:       job.ID,
		Type:        models.NotificationApplication,
		Title:       "New application for " + job.Title,
		Body:        truncate(app.Message),
	})
}

// ApplicationDecided tells the worker whether the employer accepted or rejected the application.
func (d *Dispatcher) ApplicationDecided(ctx context.Context, job models.Job, app models.Application) (models.Notification, error) {
	return d.Notify(ctx, Params{
		RecipientID: app.WorkerID,
		JobID:       job.ID,
		Type:        models.NotificationApplication,
		Title:       fmt.Sprintf("Application %s", app.Status),
		Body:        fmt.Sprintf("Your application for %s was %s", job.Title, app.Status),
	})
}

// Preview renders an entry as a short notification body.
func Preview(e models.TranscriptEntry) string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return truncate(body)
	}
	if p := e.Payload; p != nil {
		switch {
		case p.PhotoURL != "":
			return "Shared a progress photo"
		case p.Location != nil:
			return "Shared a location"
		case p.EstimatedArrivalMinutes != nil:
			return fmt.Sprintf("Estimated arrival in %d minutes", *p.EstimatedArrivalMinutes)
		}
	}
	return ""
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	r := []rune(s)
	return string(r[:previewLength-1]) + "…"
}
