package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustEvent(t *testing.T, typ EventType, topic string) *Event {
	t.Helper()
	evt, err := NewEvent(typ, topic, map[string]string{"id": "x"})
	require.NoError(t, err)
	return evt
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		require.True(t, ok, "subscriber channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubRoutesByTopic(t *testing.T) {
	h := NewHub(testLogger())
	ctx := context.Background()

	jobObs := h.Subscribe("obs-job", JobTopic("j1"))
	userObs := h.Subscribe("obs-user", UserTopic("u1"))

	require.NoError(t, h.Publish(ctx, mustEvent(t, EventEntryCreated, JobTopic("j1"))))
	require.NoError(t, h.Publish(ctx, mustEvent(t, EventNotificationCreated, UserTopic("u1"))))

	assert.Equal(t, EventEntryCreated, receive(t, jobObs).Type)
	assert.Equal(t, EventNotificationCreated, receive(t, userObs).Type)

	select {
	case evt := <-jobObs.C():
		t.Fatalf("job observer got unexpected %s", evt.Type)
	default:
	}
}

func TestHubSubscribeReusesObserver(t *testing.T) {
	h := NewHub(testLogger())
	a := h.Subscribe("obs", JobTopic("j1"))
	b := h.Subscribe("obs", UserTopic("u1"))
	assert.Same(t, a, b)
	assert.ElementsMatch(t, []string{JobTopic("j1"), UserTopic("u1")}, a.Topics())

	h.Unsubscribe("obs", JobTopic("j1"))
	assert.Equal(t, []string{UserTopic("u1")}, a.Topics())
	assert.Equal(t, 1, h.Stats().TopicCount)
}

func TestHubRemoveClosesChannel(t *testing.T) {
	h := NewHub(testLogger())
	sub := h.Subscribe("obs", JobTopic("j1"))
	h.Remove("obs")

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Stats().ObserverCount)

	// Publishing after removal is harmless.
	require.NoError(t, h.Publish(context.Background(), mustEvent(t, EventEntryCreated, JobTopic("j1"))))
}

func TestHubDropsForSlowObserver(t *testing.T) {
	h := NewHub(testLogger(), WithBufferSize(1))
	ctx := context.Background()
	sub := h.Subscribe("slow", JobTopic("j1"))

	require.NoError(t, h.Publish(ctx, mustEvent(t, EventEntryCreated, JobTopic("j1"))))
	require.NoError(t, h.Publish(ctx, mustEvent(t, EventStateChanged, JobTopic("j1"))))

	assert.Equal(t, int64(1), sub.Dropped())
	assert.Equal(t, int64(1), h.Stats().TotalDropped)
	assert.Equal(t, EventEntryCreated, receive(t, sub).Type)
}

func TestValidateTopic(t *testing.T) {
	assert.NoError(t, ValidateTopic("job:abc"))
	assert.NoError(t, ValidateTopic("user:abc"))
	assert.Error(t, ValidateTopic("job:"))
	assert.Error(t, ValidateTopic("firehose"))
	assert.Error(t, ValidateTopic("chat:abc"))
}

func TestHubReleaseKeepsObserverWithTopicsLeft(t *testing.T) {
	h := NewHub(testLogger())
	sub := h.Subscribe("obs", JobTopic("j1"), UserTopic("u1"))

	assert.False(t, h.Release("obs", JobTopic("j1")))
	assert.Equal(t, []string{UserTopic("u1")}, sub.Topics())

	assert.True(t, h.Release("obs", UserTopic("u1")))
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.False(t, h.Release("obs", UserTopic("u1")), "unknown observer")
}

func TestHubReleaseRacesSubscribe(t *testing.T) {
	h := NewHub(testLogger())
	for i := 0; i < 200; i++ {
		h.Subscribe("obs", JobTopic("j1"))

		var wg sync.WaitGroup
		var resub *Subscriber
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Release("obs", JobTopic("j1"))
		}()
		go func() {
			defer wg.Done()
			resub = h.Subscribe("obs", UserTopic("u1"))
		}()
		wg.Wait()

		// Whatever the interleaving, the subscription that just happened is live.
		current, ok := h.Subscriber("obs")
		require.True(t, ok)
		require.Same(t, resub, current)
		require.Contains(t, current.Topics(), UserTopic("u1"))
		h.Remove("obs")
	}
}
