// Package realtime pushes transcript, state and notification changes to observers of a job or user.
// Delivery is best-effort; observers reconcile through transcript catch-up and state re-reads.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"job-lifecycle-service/internal/models"
)

// EventType identifies what changed.
type EventType string

const (
	EventEntryCreated        EventType = "entry.created"
	EventStateChanged        EventType = "state.changed"
	EventNotificationCreated EventType = "notification.created"
	EventEntriesRead         EventType = "entries.read"
	EventApplicationCreated  EventType = "application.created"
	EventApplicationDecided  EventType = "application.decided"
)

// Event is the envelope delivered to observers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`
	Topic     string    `json:"topic"`

	// Sequence is the transcript sequence for entry events and the reader cursor for read events.
	Sequence int64 `json:"sequence,omitempty"`
	// Version is the job state version for state events.
	Version int64 `json:"version,omitempty"`

	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(typ EventType, topic string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal %s data: %w", typ, err)
	}
	return &Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      raw,
	}, nil
}

// ReadEventData is the payload of entries.read.
type ReadEventData struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
	Cursor   int64  `json:"cursor"`
	Marked   int64  `json:"marked"`
}

// StateEventData is the payload of state.changed: the new state record and the history row.
type StateEventData struct {
	State  models.JobState    `json:"state"`
	Change models.StateChange `json:"change"`
}
