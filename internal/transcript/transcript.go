// Package transcript is the append-only, per-chat ordered log of user and system entries.
package transcript

import (
	"context"
	"iter"
	"strings"
	"unicode/utf8"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/store"
)

const (
	DefaultMaxLength = 2000
	DefaultPageSize  = 100

	maxArrivalMinutes = 24 * 60
)

// Store is the persistence the transcript needs.
type Store interface {
	GetChat(ctx context.Context, id string) (models.Chat, error)
	AppendEntry(ctx context.Context, p store.AppendEntryParams) (models.TranscriptEntry, error)
	ListEntries(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.TranscriptEntry, error)
}

// Service validates and appends transcript entries and pages through them.
type Service struct {
	store     Store
	maxLength int
	pageSize  int
}

func NewService(st Store, maxLength, pageSize int) *Service {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{store: st, maxLength: maxLength, pageSize: pageSize}
}

// AppendParams describes one entry. AuthorID may be empty only for system entries.
type AppendParams struct {
	ChatID   string
	AuthorID string
	Kind     models.EntryKind
	Body     string
	Payload  *models.Payload
}

// Append validates p and appends it with the chat's next sequence number.
func (s *Service) Append(ctx context.Context, p AppendParams) (models.TranscriptEntry, error) {
	if p.Kind == "" {
		p.Kind = models.EntryUser
	}
	if p.Kind != models.EntryUser && p.Kind != models.EntrySystem {
		return models.TranscriptEntry{}, models.Invalid("unknown entry kind %q", p.Kind)
	}
	body := strings.TrimSpace(p.Body)
	if n := utf8.RuneCountInString(body); n > s.maxLength {
		return models.TranscriptEntry{}, models.Invalid("message is %d characters, limit is %d", n, s.maxLength)
	}
	if body == "" && p.Payload.Empty() {
		return models.TranscriptEntry{}, models.Invalid("message is empty")
	}
	if err := ValidatePayload(p.Payload); err != nil {
		return models.TranscriptEntry{}, err
	}
	if p.Kind == models.EntryUser && p.AuthorID == "" {
		return models.TranscriptEntry{}, models.Invalid("author is required")
	}
	if p.Payload.Empty() {
		p.Payload = nil
	}

	var author *string
	if p.AuthorID != "" {
		author = &p.AuthorID
	}
	return s.store.AppendEntry(ctx, store.AppendEntryParams{
		ChatID:   p.ChatID,
		AuthorID: author,
		Kind:     p.Kind,
		Body:     body,
		Payload:  p.Payload,
	})
}

// ValidatePayload checks the structured part of an entry.
func ValidatePayload(p *models.Payload) error {
	if p == nil {
		return nil
	}
	if m := p.EstimatedArrivalMinutes; m != nil && (*m <= 0 || *m > maxArrivalMinutes) {
		return models.Invalid("arrival estimate must be between 1 and %d minutes", maxArrivalMinutes)
	}
	if loc := p.Location; loc != nil {
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return models.Invalid("location %.5f,%.5f is out of range", loc.Latitude, loc.Longitude)
		}
	}
	return nil
}

// List returns up to limit entries with sequence greater than since, in sequence order.
func (s *Service) List(ctx context.Context, chatID string, since int64, limit int) ([]models.TranscriptEntry, error) {
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	if since < 0 {
		since = 0
	}
	return s.store.ListEntries(ctx, chatID, since, limit)
}

// Entries yields every entry after since, fetching one page at a time. The sequence ends at the
// entries present when the last page was read and can be ranged over again to catch up.
func (s *Service) Entries(ctx context.Context, chatID string, since int64) iter.Seq2[models.TranscriptEntry, error] {
	return func(yield func(models.TranscriptEntry, error) bool) {
		cursor := since
		for {
			page, err := s.List(ctx, chatID, cursor, s.pageSize)
			if err != nil {
				yield(models.TranscriptEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				cursor = e.Sequence
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}
