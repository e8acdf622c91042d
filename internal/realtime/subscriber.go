package realtime

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one observer. Events arrive on a buffered channel; a full buffer drops the event.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.RWMutex
	topics map[string]struct{}

	dropped atomic.Int64
	closed  atomic.Bool
	// sendMu orders send against Close so a send never hits a closed channel.
	sendMu sync.RWMutex
}

func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of the subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) send(evt *Event) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
