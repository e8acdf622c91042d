// Package readstate tracks per-user read cursors over transcripts and read flags on notifications.
// Every mark operation is idempotent and never un-reads.
package readstate

import (
	"context"
	"log/slog"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
)

type Store interface {
	GetChat(ctx context.Context, id string) (models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	MarkEntriesRead(ctx context.Context, chatID, readerID string, upto int64) (store.ReadResult, error)
	ReadCursor(ctx context.Context, chatID, userID string) (int64, error)
	CountUnreadEntries(ctx context.Context, chatID, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) (models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int64, error)
}

type Tracker struct {
	store  Store
	pub    realtime.Publisher
	logger *slog.Logger
}

func NewTracker(st Store, pub realtime.Publisher, logger *slog.Logger) *Tracker {
	return &Tracker{store: st, pub: pub, logger: logger}
}

// MarkTranscriptRead advances reader's cursor on chatID to upto and flags the counterpart's entries
// up to it. When anything changed, observers of the job get entries.read.
func (t *Tracker) MarkTranscriptRead(ctx context.Context, chatID, readerID string, upto int64) (store.ReadResult, error) {
	if upto < 0 {
		return store.ReadResult{}, models.Invalid("read cursor must not be negative")
	}
	chat, err := t.store.GetChat(ctx, chatID)
	if err != nil {
		return store.ReadResult{}, err
	}
	res, err := t.store.MarkEntriesRead(ctx, chatID, readerID, upto)
	if err != nil {
		return store.ReadResult{}, err
	}
	if res.Marked > 0 && t.pub != nil {
		evt, err := realtime.NewEvent(realtime.EventEntriesRead, realtime.JobTopic(chat.JobID), realtime.ReadEventData{
			ChatID: chatID, ReaderID: readerID, Cursor: res.Cursor, Marked: res.Marked,
		})
		if err == nil {
			evt.Sequence = res.Cursor
			err = t.pub.Publish(ctx, evt)
		}
		if err != nil {
			telemetry.PushFailures.Inc()
			t.logger.Warn("push read receipt failed", "chat_id", chatID, "reader", readerID, "error", err)
		}
	}
	return res, nil
}

func (t *Tracker) Cursor(ctx context.Context, chatID, userID string) (int64, error) {
	return t.store.ReadCursor(ctx, chatID, userID)
}

func (t *Tracker) UnreadEntries(ctx context.Context, chatID, userID string) (int64, error) {
	return t.store.CountUnreadEntries(ctx, chatID, userID)
}

func (t *Tracker) UnreadNotifications(ctx context.Context, userID string) (int64, error) {
	return t.store.CountUnreadNotifications(ctx, userID)
}

func (t *Tracker) MarkNotificationRead(ctx context.Context, id, recipientID string) (models.Notification, error) {
	return t.store.MarkNotificationRead(ctx, id, recipientID)
}

func (t *Tracker) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	return t.store.MarkAllNotificationsRead(ctx, recipientID)
}

// Summary counts what userID has not read yet.
type Summary struct {
	Notifications int64            `json:"notifications"`
	Chats         map[string]int64 `json:"chats"`
}

func (t *Tracker) Summary(ctx context.Context, userID string) (Summary, error) {
	n, err := t.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	chats, err := t.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{Notifications: n, Chats: make(map[string]int64, len(chats))}
	for _, c := range chats {
		unread, err := t.store.CountUnreadEntries(ctx, c.ID, userID)
		if err != nil {
			return Summary{}, err
		}
		if unread > 0 {
			out.Chats[c.ID] = unread
		}
	}
	return out, nil
}
