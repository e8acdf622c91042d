package store

import (
	"context"
	"fmt"

	"job-lifecycle-service/internal/models"
)

// Store is the single authoritative data store behind the lifecycle core.
// Postgres backs production; Memory backs tests and local development.
type Store interface {
	Ping(ctx context.Context) error
	Close()
	RunMigrations(ctx context.Context) error

	CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)

	CreateApplication(ctx context.Context, p CreateApplicationParams) (models.Application, error)
	GetApplication(ctx context.Context, id string) (models.Application, error)
	ListApplications(ctx context.Context, jobID string) ([]models.Application, error)
	AcceptApplication(ctx context.Context, p AcceptParams) (AcceptRecord, error)
	RejectApplication(ctx context.Context, applicationID, employerID string) (models.Application, error)

	GetChat(ctx context.Context, id string) (models.Chat, error)
	GetChatByApplication(ctx context.Context, applicationID string) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)

	GetJobState(ctx context.Context, jobID string) (models.JobState, error)
	ApplyTransition(ctx context.Context, p TransitionParams) (TransitionRecord, error)
	ListStateChanges(ctx context.Context, jobID string) ([]models.StateChange, error)

	AppendEntry(ctx context.Context, p AppendEntryParams) (models.TranscriptEntry, error)
	ListEntries(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.TranscriptEntry, error)
	MarkEntriesRead(ctx context.Context, chatID, readerID string, upto int64) (ReadResult, error)
	ReadCursor(ctx context.Context, chatID, userID string) (int64, error)
	CountUnreadEntries(ctx context.Context, chatID, userID string) (int64, error)

	CreateNotification(ctx context.Context, p CreateNotificationParams) (models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) (models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error)

	CreateMediaTask(ctx context.Context, p CreateMediaTaskParams) (models.MediaTask, error)
	GetMediaTask(ctx context.Context, id string) (models.MediaTask, error)
	UpdateMediaTask(ctx context.Context, id, status string, attempts int, lastError *string) error
	AppendAudit(ctx context.Context, taskID, event, detail string) error
}

// CreateJobParams seeds a job record. Posting and search live outside the core.
type CreateJobParams struct {
	Title      string
	EmployerID string
}

// CreateApplicationParams collects inputs required to insert an application.
type CreateApplicationParams struct {
	JobID    string
	WorkerID string
	Message  string
}

// AcceptParams drives the atomic acceptance of an application.
type AcceptParams struct {
	ApplicationID string
	EmployerID    string
	Milestone     models.Milestone
	Message       string
}

// AcceptRecord is everything an acceptance creates or changes.
type AcceptRecord struct {
	Application models.Application
	Job         models.Job
	Chat        models.Chat
	State       models.JobState
	Entry       models.TranscriptEntry
	Change      models.StateChange
}

// TransitionParams describes a compare-and-swap on a job state plus its system entry.
type TransitionParams struct {
	JobID           string
	ApplicationID   string
	ChatID          string
	ActorID         string
	From            models.State
	To              models.State
	ExpectedVersion int64
	Milestone       models.Milestone
	Message         string
}

// TransitionRecord is what a successful transition wrote.
type TransitionRecord struct {
	Job    models.Job
	State  models.JobState
	Entry  models.TranscriptEntry
	Change models.StateChange
}

// AppendEntryParams collects inputs for a transcript append.
type AppendEntryParams struct {
	ChatID   string
	AuthorID *string
	Kind     models.EntryKind
	Body     string
	Payload  *models.Payload
}

// ReadResult reports the reader's cursor after a mark-read and how many entries flipped.
type ReadResult struct {
	Cursor int64
	Marked int64
}

// CreateNotificationParams collects inputs for a notification.
type CreateNotificationParams struct {
	RecipientID string
	JobID       string
	Type        models.NotificationType
	Title       string
	Body        string
}

// CreateMediaTaskParams collects inputs for a progress photo task.
type CreateMediaTaskParams struct {
	ChatID      string
	JobID       string
	AuthorID    string
	SourceKey   string
	Caption     string
	MaxAttempts int
}

func strPtr(v string) *string {
	return &v
}

// Open connects the store named by driver: "postgres" dials dsn, "memory" keeps everything in process.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "postgres", "":
		pg, err := NewPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
