package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"job-lifecycle-service/internal/config"
	"job-lifecycle-service/internal/media"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/queue"
	"job-lifecycle-service/internal/telemetry"
)

// Store is the media task persistence the processor needs.
type Store interface {
	GetMediaTask(ctx context.Context, id string) (models.MediaTask, error)
	UpdateMediaTask(ctx context.Context, id, status string, attempts int, lastError *string) error
	AppendAudit(ctx context.Context, taskID, event, detail string) error
}

// Attacher appends a processed photo to its chat. coordinator.Service satisfies it.
type Attacher interface {
	AttachPhoto(ctx context.Context, taskID, photoURL, thumbnailURL string) (models.TranscriptEntry, error)
}

// Processor drives the media worker loop: lease a task, build the thumbnail, attach the photo.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    Store
	media    media.Storage
	attach   Attacher
	workerID string
	logger   *slog.Logger
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, st Store, storage media.Storage, attach Attacher, workerID string, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		media:    storage,
		attach:   attach,
		workerID: workerID,
		logger:   logger.With("worker_id", workerID),
	}
}

// Run processes tasks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		taskID, err := p.Tick(ctx)
		if err != nil {
			p.logger.Warn("poll media queue", "error", err)
		}
		if err != nil || taskID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// Tick does one round of queue housekeeping and processes at most one task.
// It returns the ID of the task it handled, or "" when the queue was empty.
func (p *Processor) Tick(ctx context.Context) (string, error) {
	now := time.Now()
	_, _ = p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize))
	if reclaimed, _ := p.queue.RequeueExpired(ctx, now, 100); len(reclaimed) > 0 {
		telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
		for _, id := range reclaimed {
			if task, err := p.store.GetMediaTask(ctx, id); err == nil {
				_ = p.store.UpdateMediaTask(ctx, id, models.TaskQueued, task.Attempts, task.LastError)
			}
		}
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}

	taskID, err := p.queue.DequeueWithLease(ctx)
	if err != nil || taskID == "" {
		return "", err
	}

	task, err := p.store.GetMediaTask(ctx, taskID)
	if err != nil {
		_ = p.queue.Ack(ctx, taskID)
		return taskID, err
	}
	if task.Status == models.TaskSucceeded || task.Status == models.TaskDeadLetter {
		_ = p.queue.Ack(ctx, taskID)
		return taskID, nil
	}

	_ = p.store.UpdateMediaTask(ctx, task.ID, models.TaskInProgress, task.Attempts, nil)
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	err = p.process(ctx, task)
	if err == nil {
		_ = p.queue.Ack(ctx, task.ID)
		_ = p.store.UpdateMediaTask(ctx, task.ID, models.TaskSucceeded, task.Attempts+1, nil)
		_ = p.store.AppendAudit(ctx, task.ID, "succeeded", "worker "+p.workerID+" attached photo")
		telemetry.WorkerSuccess.Inc()
		return task.ID, nil
	}

	attempts := task.Attempts + 1
	msg := err.Error()
	if attempts >= task.MaxAttempts || attempts >= p.cfg.MaxAttempts || permanent(err) {
		_ = p.store.UpdateMediaTask(ctx, task.ID, models.TaskDeadLetter, attempts, &msg)
		_ = p.queue.Ack(ctx, task.ID)
		_ = p.queue.DLQPush(ctx, task.ID)
		_ = p.store.AppendAudit(ctx, task.ID, "dead_letter", msg)
		telemetry.WorkerDeadLetter.Inc()
		p.logger.Error("media task dead-lettered", "task_id", task.ID, "attempts", attempts, "error", err)
		return task.ID, nil
	}

	nextRun := time.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	_ = p.store.UpdateMediaTask(ctx, task.ID, models.TaskQueued, attempts, &msg)
	_ = p.queue.Ack(ctx, task.ID)
	_ = p.queue.Schedule(ctx, task.ID, nextRun)
	_ = p.store.AppendAudit(ctx, task.ID, "retry_scheduled", fmt.Sprintf("next_run=%s attempts=%d", nextRun.UTC().Format(time.RFC3339), attempts))
	telemetry.WorkerFailures.Inc()
	p.logger.Warn("media task failed, retrying", "task_id", task.ID, "attempts", attempts, "next_run", nextRun, "error", err)
	return task.ID, nil
}

func (p *Processor) process(ctx context.Context, task models.MediaTask) error {
	data, err := p.media.Get(ctx, task.SourceKey)
	if err != nil {
		return err
	}
	contentType, _, err := media.Sniff(data)
	if err != nil {
		return err
	}
	thumb, thumbType, err := media.Thumbnail(data, p.cfg.ThumbnailWidth, contentType)
	if err != nil {
		return err
	}
	thumbURL, err := p.media.Put(ctx, media.ThumbnailKey(task.ChatID, task.ID, media.ExtensionFor(thumbType)), thumb, thumbType)
	if err != nil {
		return err
	}
	_, err = p.attach.AttachPhoto(ctx, task.ID, p.media.URL(task.SourceKey), thumbURL)
	return err
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrForbidden)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait/2 <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
