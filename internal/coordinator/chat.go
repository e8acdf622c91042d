package coordinator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"job-lifecycle-service/internal/media"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/ratelimit"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
	"job-lifecycle-service/internal/transcript"
)

// States in which the worker can share an arrival estimate and either party a location.
var sharingStates = map[models.State]bool{
	models.StateAccepted:   true,
	models.StateEnRoute:    true,
	models.StateInProgress: true,
}

// SendParams describes a chat message.
type SendParams struct {
	ChatID   string
	AuthorID string
	Body     string
	Payload  *models.Payload
}

// SendMessage appends a plain text user entry, pushes it to observers of the job and notifies the counterpart.
// It bypasses the state machine. Structured payloads go through the dedicated share operations.
func (s *Service) SendMessage(ctx context.Context, p SendParams) (entry models.TranscriptEntry, err error) {
	ctx, end := s.start(ctx, "send_message", attribute.String("chat.id", p.ChatID), attribute.String("actor.id", p.AuthorID))
	defer end(&err)

	if !p.Payload.Empty() {
		return models.TranscriptEntry{}, models.Invalid("structured payloads are posted through their own operations")
	}
	p.Payload = nil
	if err := s.allow(ctx, p.AuthorID); err != nil {
		return models.TranscriptEntry{}, err
	}
	return s.send(ctx, p)
}

// ShareArrivalEstimate posts the worker's estimated arrival while the job is not yet done.
func (s *Service) ShareArrivalEstimate(ctx context.Context, chatID string, worker models.Actor, minutes int) (entry models.TranscriptEntry, err error) {
	ctx, end := s.start(ctx, "share_arrival_estimate", attribute.String("chat.id", chatID), attribute.Int("eta.minutes", minutes))
	defer end(&err)

	if worker.Role != models.RoleWorker {
		return models.TranscriptEntry{}, fmt.Errorf("only the worker shares an arrival estimate: %w", models.ErrForbidden)
	}
	if err := s.requireParty(ctx, chatID, worker.UserID); err != nil {
		return models.TranscriptEntry{}, err
	}
	if err := s.requireState(ctx, chatID, sharingStates); err != nil {
		return models.TranscriptEntry{}, err
	}
	if err := s.allow(ctx, worker.UserID); err != nil {
		return models.TranscriptEntry{}, err
	}
	return s.send(ctx, SendParams{
		ChatID:   chatID,
		AuthorID: worker.UserID,
		Body:     fmt.Sprintf("Estimated arrival in %d minutes", minutes),
		Payload:  &models.Payload{EstimatedArrivalMinutes: &minutes},
	})
}

// ShareLocation posts a map point from either party.
func (s *Service) ShareLocation(ctx context.Context, chatID string, actor models.Actor, loc models.Location) (entry models.TranscriptEntry, err error) {
	ctx, end := s.start(ctx, "share_location", attribute.String("chat.id", chatID), attribute.String("actor.id", actor.UserID))
	defer end(&err)

	if err := s.requireParty(ctx, chatID, actor.UserID); err != nil {
		return models.TranscriptEntry{}, err
	}
	if err := s.requireState(ctx, chatID, sharingStates); err != nil {
		return models.TranscriptEntry{}, err
	}
	if err := s.allow(ctx, actor.UserID); err != nil {
		return models.TranscriptEntry{}, err
	}
	body := strings.TrimSpace(loc.Label)
	if body == "" {
		body = "Shared a location"
	}
	return s.send(ctx, SendParams{ChatID: chatID, AuthorID: actor.UserID, Body: body, Payload: &models.Payload{Location: &loc}})
}

// SubmitPhoto stores an in-progress photo from the worker and queues it for thumbnailing.
// The transcript entry appears once the media worker calls AttachPhoto.
func (s *Service) SubmitPhoto(ctx context.Context, chatID string, worker models.Actor, data []byte, caption string) (task models.MediaTask, err error) {
	ctx, end := s.start(ctx, "submit_photo", attribute.String("chat.id", chatID), attribute.Int("photo.bytes", len(data)))
	defer end(&err)

	if s.photos == nil || s.tasks == nil {
		return models.MediaTask{}, models.Unavailable("submit photo", errors.New("media pipeline not configured"))
	}
	if worker.Role != models.RoleWorker {
		return models.MediaTask{}, fmt.Errorf("only the worker shares progress photos: %w", models.ErrForbidden)
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return models.MediaTask{}, err
	}
	if chat.WorkerID != worker.UserID {
		return models.MediaTask{}, fmt.Errorf("%s is not the worker of chat %s: %w", worker.UserID, chatID, models.ErrForbidden)
	}
	if err := s.requireState(ctx, chatID, map[models.State]bool{models.StateInProgress: true}); err != nil {
		return models.MediaTask{}, err
	}
	if int64(len(data)) > s.maxPhotoBytes {
		return models.MediaTask{}, models.Invalid("photo exceeds %d bytes", s.maxPhotoBytes)
	}
	contentType, ext, err := media.Sniff(data)
	if err != nil {
		return models.MediaTask{}, err
	}

	key := media.OriginalKey(chat.ID, uuid.NewString(), ext)
	if _, err := s.photos.Put(ctx, key, data, contentType); err != nil {
		return models.MediaTask{}, err
	}
	task, err = s.store.CreateMediaTask(ctx, store.CreateMediaTaskParams{
		ChatID:      chat.ID,
		JobID:       chat.JobID,
		AuthorID:    worker.UserID,
		SourceKey:   key,
		Caption:     strings.TrimSpace(caption),
		MaxAttempts: s.photoAttempts,
	})
	if err != nil {
		return models.MediaTask{}, err
	}
	if err := s.tasks.Enqueue(ctx, task.ID, time.Now()); err != nil {
		return models.MediaTask{}, models.Unavailable("enqueue media task", err)
	}
	if err := s.store.AppendAudit(ctx, task.ID, "enqueued", key); err != nil {
		s.logger.Warn("media audit write failed", "media_task_id", task.ID, "error", err)
	}
	telemetry.MediaEnqueued.Inc()
	return task, nil
}

// AttachPhoto appends the processed photo of a media task as an entry by the task's author.
func (s *Service) AttachPhoto(ctx context.Context, taskID, photoURL, thumbnailURL string) (entry models.TranscriptEntry, err error) {
	ctx, end := s.start(ctx, "attach_photo", attribute.String("media_task.id", taskID))
	defer end(&err)

	task, err := s.store.GetMediaTask(ctx, taskID)
	if err != nil {
		return models.TranscriptEntry{}, err
	}
	if photoURL == "" {
		return models.TranscriptEntry{}, models.Invalid("photo url is required")
	}
	return s.send(ctx, SendParams{
		ChatID:   task.ChatID,
		AuthorID: task.AuthorID,
		Body:     task.Caption,
		Payload:  &models.Payload{PhotoURL: photoURL, ThumbnailURL: thumbnailURL},
	})
}

// ListTranscript returns one page of entries after since to a party of the chat.
func (s *Service) ListTranscript(ctx context.Context, chatID, viewerID string, since int64, limit int) (entries []models.TranscriptEntry, err error) {
	ctx, end := s.start(ctx, "list_transcript", attribute.String("chat.id", chatID), attribute.Int64("since", since))
	defer end(&err)

	if err := s.requireParty(ctx, chatID, viewerID); err != nil {
		return nil, err
	}
	return s.transcript.List(ctx, chatID, since, limit)
}

// TranscriptEntries yields every entry after since to a party of the chat, page by page.
func (s *Service) TranscriptEntries(ctx context.Context, chatID, viewerID string, since int64) iter.Seq2[models.TranscriptEntry, error] {
	return func(yield func(models.TranscriptEntry, error) bool) {
		if err := s.requireParty(ctx, chatID, viewerID); err != nil {
			yield(models.TranscriptEntry{}, err)
			return
		}
		for e, err := range s.transcript.Entries(ctx, chatID, since) {
			if !yield(e, err) {
				return
			}
		}
	}
}

// ListChats returns the chats userID takes part in.
func (s *Service) ListChats(ctx context.Context, userID string) (chats []models.Chat, err error) {
	ctx, end := s.start(ctx, "list_chats")
	defer end(&err)
	return s.store.ListChatsForUser(ctx, userID)
}

func (s *Service) send(ctx context.Context, p SendParams) (models.TranscriptEntry, error) {
	chat, err := s.store.GetChat(ctx, p.ChatID)
	if err != nil {
		return models.TranscriptEntry{}, err
	}
	entry, err := s.transcript.Append(ctx, transcript.AppendParams{
		ChatID:   chat.ID,
		AuthorID: p.AuthorID,
		Kind:     models.EntryUser,
		Body:     p.Body,
		Payload:  p.Payload,
	})
	if err != nil {
		return models.TranscriptEntry{}, err
	}
	telemetry.MessagesTotal.Inc()
	s.publishEntry(ctx, entry)

	job, err := s.store.GetJob(ctx, chat.JobID)
	if err == nil {
		_, err = s.notifier.Message(ctx, job, entry)
	}
	if err != nil {
		s.notifyFailed(ctx, "send_message", chat.JobID, err)
	}
	return entry, nil
}

// allow spends one message token of userID. A limiter outage lets the message through.
func (s *Service) allow(ctx context.Context, userID string) error {
	if s.limiter == nil {
		return nil
	}
	ok, _, err := s.limiter.Allow(ctx, ratelimit.MessageKey(userID))
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "user_id", userID, "error", err)
		return nil
	}
	if !ok {
		telemetry.RateLimitRejects.Inc()
		return fmt.Errorf("messages from %s: %w", userID, models.ErrRateLimited)
	}
	return nil
}

func (s *Service) requireParty(ctx context.Context, chatID, userID string) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParty(userID) {
		return fmt.Errorf("%s is not a party to chat %s: %w", userID, chatID, models.ErrForbidden)
	}
	return nil
}

func (s *Service) requireState(ctx context.Context, chatID string, allowed map[models.State]bool) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	st, err := s.store.GetJobState(ctx, chat.JobID)
	if err != nil {
		return err
	}
	if !allowed[st.State] {
		return fmt.Errorf("not allowed while the job is %s: %w", st.State, models.ErrInvalidTransition)
	}
	return nil
}
