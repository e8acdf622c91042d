package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"job-lifecycle-service/internal/telemetry"
)

// DefaultBufferSize is the per-observer event buffer.
const DefaultBufferSize = 64

// Publisher accepts events for fan-out. Hub delivers in-process; RedisRelay goes through Redis.
type Publisher interface {
	Publish(ctx context.Context, evt *Event) error
}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = (*RedisRelay)(nil)
)

// Hub keeps the observers registered on this process and fans events out to them.
type Hub struct {
	topics *TopicRegistry
	logger *slog.Logger

	// mu serialises observer membership changes; Publish does not take it.
	mu          sync.Mutex
	subscribers sync.Map // observerID → *Subscriber

	totalDelivered atomic.Int64
	totalDropped   atomic.Int64

	bufferSize int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-observer buffer size.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers observerID on topics. An existing observer keeps its channel and gains the topics.
func (h *Hub) Subscribe(observerID string, topics ...string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	fresh := NewSubscriber(observerID, h.bufferSize)
	val, loaded := h.subscribers.LoadOrStore(observerID, fresh)
	sub := val.(*Subscriber)
	if !loaded {
		telemetry.ObserversGauge.Inc()
	}
	for _, topic := range topics {
		h.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes observerID from topics. The observer stays registered.
func (h *Hub) Unsubscribe(observerID string, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.topics.Unsubscribe(topic, observerID)
	}
}

// Release removes observerID from topic and, if that was its last topic, removes the observer
// and closes its channel. It reports whether the observer was removed.
func (h *Hub) Release(observerID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics.Unsubscribe(topic, observerID)
	val, ok := h.subscribers.Load(observerID)
	if !ok || len(val.(*Subscriber).Topics()) > 0 {
		return false
	}
	h.removeLocked(observerID)
	return true
}

// Remove drops observerID from every topic and closes its channel.
func (h *Hub) Remove(observerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(observerID)
}

func (h *Hub) removeLocked(observerID string) {
	h.topics.UnsubscribeAll(observerID)
	if val, ok := h.subscribers.LoadAndDelete(observerID); ok {
		val.(*Subscriber).Close()
		telemetry.ObserversGauge.Dec()
	}
}

func (h *Hub) Subscriber(observerID string) (*Subscriber, bool) {
	val, ok := h.subscribers.Load(observerID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true
}

// Publish delivers evt to the observers of evt.Topic. It never blocks on a slow observer.
func (h *Hub) Publish(_ context.Context, evt *Event) error {
	delivered, dropped := h.topics.Publish(evt.Topic, evt)
	h.totalDelivered.Add(int64(delivered))
	telemetry.RealtimeDelivered.Add(float64(delivered))
	if dropped > 0 {
		h.totalDropped.Add(int64(dropped))
		telemetry.RealtimeDropped.Add(float64(dropped))
		h.logger.Debug("realtime: dropped event for slow observers",
			"topic", evt.Topic, "type", evt.Type, "dropped", dropped)
	}
	return nil
}

// Close removes every observer.
func (h *Hub) Close() {
	h.subscribers.Range(func(key, _ any) bool {
		h.Remove(key.(string))
		return true
	})
}

// HubStats contains hub counters.
type HubStats struct {
	TopicCount     int   `json:"topic_count"`
	ObserverCount  int   `json:"observer_count"`
	TotalDelivered int64 `json:"total_delivered"`
	TotalDropped   int64 `json:"total_dropped"`
}

func (h *Hub) Stats() HubStats {
	count := 0
	h.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return HubStats{
		TopicCount:     h.topics.TopicCount(),
		ObserverCount:  count,
		TotalDelivered: h.totalDelivered.Load(),
		TotalDropped:   h.totalDropped.Load(),
	}
}
