package models

import "time"

// NotificationType classifies what produced a notification.
type NotificationType string

const (
	NotificationMessage     NotificationType = "message"
	NotificationStateChange NotificationType = "state_change"
	NotificationApplication NotificationType = "application"
)

// Notification is a per-recipient record created as a side effect of a transition, a message or an application.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	JobID       string           `json:"job_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}
