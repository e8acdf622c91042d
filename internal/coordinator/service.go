// Package coordinator is the entry point of the lifecycle core. It runs every outbound operation:
// guards and authoritative writes first, then best-effort notification and realtime fan-out.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"job-lifecycle-service/internal/lifecycle"
	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/notify"
	"job-lifecycle-service/internal/readstate"
	"job-lifecycle-service/internal/realtime"
	"job-lifecycle-service/internal/store"
	"job-lifecycle-service/internal/telemetry"
	"job-lifecycle-service/internal/transcript"
)

const tracerName = "job-lifecycle-service/coordinator"

// Limiter throttles message sends. ratelimit.TokenBucket satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// PhotoStore keeps uploaded progress photos. media.Storage satisfies it.
type PhotoStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// TaskQueue schedules media tasks for the worker. queue.RedisQueue satisfies it.
type TaskQueue interface {
	Enqueue(ctx context.Context, taskID string, runAt time.Time) error
}

// Service wires the engine, transcript, dispatcher, tracker and hub together.
type Service struct {
	store      store.Store
	engine     *lifecycle.Engine
	transcript *transcript.Service
	notifier   *notify.Dispatcher
	reads      *readstate.Tracker
	hub        *realtime.Hub
	pub        realtime.Publisher
	limiter    Limiter
	photos     PhotoStore
	tasks      TaskQueue
	tracer     trace.Tracer
	logger     *slog.Logger

	maxMessageLength int
	pageSize         int
	notificationPage int
	maxPhotoBytes    int64
	photoAttempts    int
}

// Option customises a Service.
type Option func(*Service)

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithPublisher routes events through pub instead of straight into the local hub,
// e.g. a RedisRelay so every API process sees them.
func WithPublisher(pub realtime.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithMedia enables progress photos.
func WithMedia(photos PhotoStore, tasks TaskQueue, maxBytes int64, maxAttempts int) Option {
	return func(s *Service) {
		s.photos = photos
		s.tasks = tasks
		s.maxPhotoBytes = maxBytes
		s.photoAttempts = maxAttempts
	}
}

// WithLimits sets the message length and page sizes.
func WithLimits(maxMessageLength, transcriptPage, notificationPage int) Option {
	return func(s *Service) {
		s.maxMessageLength = maxMessageLength
		s.pageSize = transcriptPage
		s.notificationPage = notificationPage
	}
}

// New builds a Service. hub may be nil in processes that only publish, such as the media worker.
func New(st store.Store, hub *realtime.Hub, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:            st,
		hub:              hub,
		tracer:           otel.Tracer(tracerName),
		logger:           logger,
		maxMessageLength: transcript.DefaultMaxLength,
		pageSize:         transcript.DefaultPageSize,
		notificationPage: 50,
		maxPhotoBytes:    10 << 20,
		photoAttempts:    5,
	}
	if hub != nil {
		s.pub = hub
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = lifecycle.NewEngine(st, logger)
	s.transcript = transcript.NewService(st, s.maxMessageLength, s.pageSize)
	s.notifier = notify.NewDispatcher(st, s.pub, logger)
	s.reads = readstate.NewTracker(st, s.pub, logger)
	return s
}

// start opens a span for op. The returned func ends it, recording *errp and the latency.
func (s *Service) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(errp *error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("lifecycle.error_code", models.ErrorCode(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		telemetry.OperationDuration.WithLabelValues(op).Observe(time.Since(begin).Seconds())
	}
}

// notifyFailed logs a notification that could not be created. The triggering write stands.
func (s *Service) notifyFailed(ctx context.Context, op, jobID string, err error) {
	telemetry.NotificationFailures.Inc()
	trace.SpanFromContext(ctx).AddEvent("notification failed", trace.WithAttributes(attribute.String("error", err.Error())))
	s.logger.Warn("notification failed", "op", op, "job_id", jobID, "error", err)
}

// publish pushes evt and swallows failures; observers catch up from the store.
func (s *Service) publish(ctx context.Context, typ realtime.EventType, topic string, data any, decorate func(*realtime.Event)) {
	if s.pub == nil {
		return
	}
	evt, err := realtime.NewEvent(typ, topic, data)
	if err == nil {
		if decorate != nil {
			decorate(evt)
		}
		err = s.pub.Publish(ctx, evt)
	}
	if err != nil {
		telemetry.PushFailures.Inc()
		s.logger.Warn("realtime push failed", "type", typ, "topic", topic, "error", err)
	}
}

func (s *Service) publishEntry(ctx context.Context, entry models.TranscriptEntry) {
	s.publish(ctx, realtime.EventEntryCreated, realtime.JobTopic(entry.JobID), entry, func(e *realtime.Event) {
		e.Sequence = entry.Sequence
	})
}

func (s *Service) publishState(ctx context.Context, st models.JobState, change models.StateChange) {
	s.publish(ctx, realtime.EventStateChanged, realtime.JobTopic(st.JobID), realtime.StateEventData{State: st, Change: change}, func(e *realtime.Event) {
		e.Version = st.Version
	})
}
