package realtime

import (
	"fmt"
	"strings"
	"sync"

	"job-lifecycle-service/internal/models"
)

// Topic names:
//
//	job:<jobID>    transcript and state events for one job
//	user:<userID>  notifications and application events for one user

// JobTopic returns the topic name for a job.
func JobTopic(jobID string) string { return "job:" + jobID }

// UserTopic returns the topic name for a user.
func UserTopic(userID string) string { return "user:" + userID }

// ParseTopic splits a topic into its entity type and id.
func ParseTopic(topic string) (entityType, entityID string) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return "", ""
	}
	return topic[:idx], topic[idx+1:]
}

// ValidateTopic checks that topic names a job or a user.
func ValidateTopic(topic string) error {
	entityType, entityID := ParseTopic(topic)
	if entityType == "" || entityID == "" {
		return fmt.Errorf("realtime: invalid topic %q: %w", topic, models.ErrInvalidInput)
	}
	switch entityType {
	case "job", "user":
		return nil
	default:
		return fmt.Errorf("realtime: unknown topic entity type %q: %w", entityType, models.ErrInvalidInput)
	}
}

// TopicRegistry manages subscriber sets per topic. It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic and drops empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic, subs := range tr.topics {
		if sub, ok := subs[subscriberID]; ok {
			sub.removeTopic(topic)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(tr.topics, topic)
		}
	}
}

// Publish sends evt to every subscriber on topic and reports delivered and dropped counts.
func (tr *TopicRegistry) Publish(topic string, evt *Event) (delivered, dropped int) {
	tr.mu.RLock()
	subs := tr.topics[topic]
	targets := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	tr.mu.RUnlock()

	for _, s := range targets {
		if s.send(evt) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}
