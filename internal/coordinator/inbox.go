package coordinator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/readstate"
	"job-lifecycle-service/internal/store"
)

// ListNotifications returns the newest notifications of userID.
func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) (out []models.Notification, err error) {
	ctx, end := s.start(ctx, "list_notifications", attribute.Int("limit", limit))
	defer end(&err)

	if limit <= 0 || limit > s.notificationPage {
		limit = s.notificationPage
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

// MarkNotificationRead flags one notification of recipientID as read. Repeating it is a no-op.
func (s *Service) MarkNotificationRead(ctx context.Context, id, recipientID string) (n models.Notification, err error) {
	ctx, end := s.start(ctx, "mark_notification_read", attribute.String("notification.id", id))
	defer end(&err)
	return s.reads.MarkNotificationRead(ctx, id, recipientID)
}

// MarkAllNotificationsRead flags every notification of recipientID as read and reports how many changed.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, recipientID string) (n int64, err error) {
	ctx, end := s.start(ctx, "mark_all_notifications_read")
	defer end(&err)
	return s.reads.MarkAllNotificationsRead(ctx, recipientID)
}

// MarkTranscriptRead advances readerID's cursor on the chat. Older cursors never un-read.
func (s *Service) MarkTranscriptRead(ctx context.Context, chatID, readerID string, upto int64) (res store.ReadResult, err error) {
	ctx, end := s.start(ctx, "mark_transcript_read", attribute.String("chat.id", chatID), attribute.Int64("upto", upto))
	defer end(&err)
	return s.reads.MarkTranscriptRead(ctx, chatID, readerID, upto)
}

// UnreadSummary counts unread notifications and unread entries per chat for userID.
func (s *Service) UnreadSummary(ctx context.Context, userID string) (sum readstate.Summary, err error) {
	ctx, end := s.start(ctx, "unread_summary")
	defer end(&err)
	return s.reads.Summary(ctx, userID)
}
