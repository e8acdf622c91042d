package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"job-lifecycle-service/internal/models"
)

// RedisRelay publishes events on a Redis channel and feeds events received from it into a local Hub,
// so every API and worker process shares one push plane.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Publish sends evt to every process subscribed to the relay channel.
func (r *RedisRelay) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return models.Unavailable("publish realtime event", r.client.Publish(ctx, r.channel, data).Err())
}

// Ready is closed once Run has an active subscription.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run subscribes to the relay channel and forwards events to the local hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.hub == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return models.Unavailable("subscribe realtime channel", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("realtime relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				r.logger.Warn("realtime relay: discard malformed event", "error", err)
				continue
			}
			_ = r.hub.Publish(ctx, &evt)
		}
	}
}

// RunWithRetry keeps Run subscribed until ctx is cancelled. A lost or failed subscription is logged and
// retried with doubling waits capped at maxWait; push stays best effort while Redis is away.
func (r *RedisRelay) RunWithRetry(ctx context.Context, minWait, maxWait time.Duration) {
	wait := minWait
	for {
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("realtime relay: subscription failed, retrying", "error", err, "wait", wait)
		} else {
			r.logger.Warn("realtime relay: subscription closed, resubscribing", "wait", wait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}
