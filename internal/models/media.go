package models

import "time"

// MediaTask status values persisted alongside the Redis queue.
const (
	TaskQueued     = "queued"
	TaskInProgress = "in_progress"
	TaskSucceeded  = "succeeded"
	TaskDeadLetter = "dead_lettered"
)

// MediaTask tracks a progress photo from upload until its transcript entry is appended.
type MediaTask struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	JobID       string    `json:"job_id"`
	AuthorID    string    `json:"author_id"`
	SourceKey   string    `json:"source_key"`
	Caption     string    `json:"caption"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   *string   `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	TaskID   string    `json:"task_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
