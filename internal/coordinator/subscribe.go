package coordinator

import (
	"context"
	"errors"
	"fmt"

	"job-lifecycle-service/internal/models"
	"job-lifecycle-service/internal/realtime"
)

// Subscription is a stream of push events for one observer. Events are hints to refetch.
type Subscription struct {
	sub   *realtime.Subscriber
	hub   *realtime.Hub
	topic string
}

func (s *Subscription) ID() string { return s.sub.ID() }
func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) C() <-chan *realtime.Event { return s.sub.C() }

// Close drops this topic from the observer. The channel closes once the observer has no topics left.
func (s *Subscription) Close() {
	s.hub.Release(s.sub.ID(), s.topic)
}

// SubscribeToJob registers observerID for transcript and state events of a job userID takes part in.
func (s *Service) SubscribeToJob(ctx context.Context, jobID, userID, observerID string) (*Subscription, error) {
	return s.subscribe(ctx, realtime.JobTopic(jobID), userID, observerID)
}

// SubscribeToUser registers observerID for notification events of userID.
func (s *Service) SubscribeToUser(ctx context.Context, userID, observerID string) (*Subscription, error) {
	return s.subscribe(ctx, realtime.UserTopic(userID), userID, observerID)
}

// Unsubscribe removes observerID from topics, or from everything when none are given.
func (s *Service) Unsubscribe(observerID string, topics ...string) {
	if s.hub == nil {
		return
	}
	if len(topics) == 0 {
		s.hub.Remove(observerID)
		return
	}
	s.hub.Unsubscribe(observerID, topics...)
}

func (s *Service) subscribe(ctx context.Context, topic, userID, observerID string) (*Subscription, error) {
	if s.hub == nil {
		return nil, models.Unavailable("subscribe", errors.New("no realtime hub in this process"))
	}
	if observerID == "" {
		return nil, models.Invalid("observer id is required")
	}
	if err := s.AuthorizeTopic(ctx, userID, topic); err != nil {
		return nil, err
	}
	return &Subscription{sub: s.hub.Subscribe(observerID, topic), hub: s.hub, topic: topic}, nil
}

// CanObserveJob reports whether userID may follow a job: its employer, or the assigned worker.
func (s *Service) CanObserveJob(ctx context.Context, jobID, userID string) (bool, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.IsParty(userID), nil
}

// AuthorizeTopic lets a user follow their own user topic and the topics of jobs they take part in.
func (s *Service) AuthorizeTopic(ctx context.Context, userID, topic string) error {
	if err := realtime.ValidateTopic(topic); err != nil {
		return err
	}
	kind, id := realtime.ParseTopic(topic)
	switch kind {
	case "user":
		if id == userID && userID != "" {
			return nil
		}
	case "job":
		ok, err := s.CanObserveJob(ctx, id, userID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("topic %s for %s: %w", topic, userID, models.ErrNotFound)
}

var _ realtime.Authorizer = (*Service)(nil)
