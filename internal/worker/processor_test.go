package worker

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/disintegration/imaging"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-lifecycle-service/internal/config"
	"job-lifecycle-service/internal/coordinator"
	"job-lifecycle-service/internal/lifecycle"
	"job-lifecycle-service/internal/media"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/queue"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	b10 := backoffWithJitter(base, max, 10)
	if b10 < max/2 || b10 > max {
		t.Fatalf("backoff not capped for attempt 10: %s", b10)
	}
}

func TestBackoffWithJitterZeroBase(t *testing.T) {
	if got := backoffWithJitter(0, 0, 3); got != 0 {
		t.Fatalf("zero base should not wait, got %s", got)
	}
	if got := backoffWithJitter(time.Nanosecond, time.Nanosecond, 1); got != time.Nanosecond {
		t.Fatalf("expected 1ns, got %s", got)
	}
}

type photoFixture struct {
	st      *store.Memory
	q       *queue.RedisQueue
	storage *media.LocalStorage
	svc     *coordinator.Service
	cfg     config.Config
	chat    models.Chat
	worker  models.Actor
	logger  *slog.Logger
}

func newPhotoFixture(t *testing.T) photoFixture {
	t.Helper()
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.Defaults()
	cfg.ThumbnailWidth = 32
	cfg.BackoffInitial = time.Second
	cfg.BackoffMax = 4 * time.Second

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	q := queue.NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "media", time.Minute)
	storage := media.NewLocalStorage(t.TempDir(), "/media")
	hub := realtime.NewHub(logger)
	svc := coordinator.New(st, hub, logger, coordinator.WithMedia(storage, q, 1<<20, 3))

	employer := models.Actor{UserID: "emp-1", Role: models.RoleEmployer}
	worker := models.Actor{UserID: "wrk-1", Role: models.RoleWorker}
	job, err := svc.CreateJob(ctx, employer, "Tile the bathroom")
	require.NoError(t, err)
	app, err := svc.ApplyToJob(ctx, job.ID, worker, "ready")
	require.NoError(t, err)
	rec, err := svc.AcceptApplication(ctx, app.ID, employer.UserID)
	require.NoError(t, err)
	for _, to := range []models.State{models.StateEnRoute, models.StateInProgress} {
		_, err := svc.RequestTransition(ctx, lifecycle.TransitionRequest{JobID: job.ID, ApplicationID: app.ID, Actor: worker, Target: to})
		require.NoError(t, err)
	}
	return photoFixture{st: st, q: q, storage: storage, svc: svc, cfg: cfg, chat: rec.Chat, worker: worker, logger: logger}
}

func photo(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.NRGBA{B: 255, A: 255})))
	return buf.Bytes()
}

func TestProcessorAttachesThumbnail(t *testing.T) {
	f := newPhotoFixture(t)
	ctx := context.Background()

	task, err := f.svc.SubmitPhoto(ctx, f.chat.ID, f.worker, photo(t, 128, 64), "grout done")
	require.NoError(t, err)

	p := NewProcessor(f.cfg, f.q, f.st, f.storage, f.svc, "w1", f.logger)
	id, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	got, err := f.st.GetMediaTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskSucceeded, got.Status)

	entries, err := f.svc.ListTranscript(ctx, f.chat.ID, f.worker.UserID, 0, 0)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	require.NotNil(t, last.Payload)
	assert.Equal(t, "grout done", last.Body)
	assert.Equal(t, f.storage.URL(task.SourceKey), last.Payload.PhotoURL)
	assert.Equal(t, "/media/"+media.ThumbnailKey(f.chat.ID, task.ID, "png"), last.Payload.ThumbnailURL)

	thumb, err := f.storage.Get(ctx, media.ThumbnailKey(f.chat.ID, task.ID, "png"))
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	id, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, id, "queue drained")
}

type failingAttacher struct{ err error }

func (f failingAttacher) AttachPhoto(context.Context, string, string, string) (models.TranscriptEntry, error) {
	return models.TranscriptEntry{}, f.err
}

func TestProcessorRetriesThenDeadLetters(t *testing.T) {
	f := newPhotoFixture(t)
	ctx := context.Background()

	task, err := f.svc.SubmitPhoto(ctx, f.chat.ID, f.worker, photo(t, 16, 16), "")
	require.NoError(t, err)

	p := NewProcessor(f.cfg, f.q, f.st, f.storage, failingAttacher{err: models.Unavailable("append", errors.New("db down"))}, "w1", f.logger)
	_, err = p.Tick(ctx)
	require.NoError(t, err)

	got, err := f.st.GetMediaTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)

	depth, err := f.q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "retry waits in the schedule")

	for i := 0; i < 2; i++ {
		n, err := f.q.PromoteScheduled(ctx, time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		_, err = p.Tick(ctx)
		require.NoError(t, err)
	}

	got, err = f.st.GetMediaTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDeadLetter, got.Status)
	assert.Equal(t, 3, got.Attempts)

	dlq, err := f.q.DLQPeek(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, dlq)
}

func TestProcessorDeadLettersPermanentFailure(t *testing.T) {
	f := newPhotoFixture(t)
	ctx := context.Background()

	task, err := f.svc.SubmitPhoto(ctx, f.chat.ID, f.worker, photo(t, 16, 16), "")
	require.NoError(t, err)

	p := NewProcessor(f.cfg, f.q, f.st, f.storage, failingAttacher{err: models.ErrForbidden}, "w1", f.logger)
	_, err = p.Tick(ctx)
	require.NoError(t, err)

	got, err := f.st.GetMediaTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDeadLetter, got.Status)
	assert.Equal(t, 1, got.Attempts)
}
