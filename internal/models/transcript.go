package models

import "time"

// EntryKind distinguishes user-authored chat lines from engine-generated ones.
type EntryKind string

const (
	EntryUser   EntryKind = "user"
	EntrySystem EntryKind = "system"
)

// Location is a shared point on the map.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Label     string  `json:"label,omitempty"`
}

// TransitionInfo annotates a system entry with the transition that produced it.
type TransitionInfo struct {
	From    State `json:"from"`
	To      State `json:"to"`
	Version int64 `json:"version"`
}

// Payload is the optional structured part of a transcript entry.
type Payload struct {
	EstimatedArrivalMinutes *int            `json:"estimated_arrival_minutes,omitempty"`
	Location                *Location       `json:"location,omitempty"`
	PhotoURL                string          `json:"photo_url,omitempty"`
	ThumbnailURL            string          `json:"thumbnail_url,omitempty"`
	Transition              *TransitionInfo `json:"transition,omitempty"`
}

// Empty reports whether the payload carries nothing.
func (p *Payload) Empty() bool {
	return p == nil || (p.EstimatedArrivalMinutes == nil && p.Location == nil &&
		p.PhotoURL == "" && p.ThumbnailURL == "" && p.Transition == nil)
}

// TranscriptEntry is one immutable line of a job's chat log. Only Read changes after creation.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	JobID     string    `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	AuthorID  *string   `json:"author_id,omitempty"`
	Kind      EntryKind `json:"kind"`
	Body      string    `json:"body"`
	Payload   *Payload  `json:"payload,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthoredBy reports whether userID authored the entry.
func (e TranscriptEntry) AuthoredBy(userID string) bool {
	return e.AuthorID != nil && *e.AuthorID == userID
}
