package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayFeedsLocalHub(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := NewHub(testLogger())
	relay := NewRedisRelay(client, "lifecycle:events", hub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	sub := hub.Subscribe("obs", JobTopic("j1"))
	evt := mustEvent(t, EventStateChanged, JobTopic("j1"))
	evt.Version = 3
	require.NoError(t, relay.Publish(ctx, evt))

	got := receive(t, sub)
	assert.Equal(t, EventStateChanged, got.Type)
	assert.Equal(t, int64(3), got.Version)
	assert.JSONEq(t, `{"id":"x"}`, string(got.Data))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelayRetriesUntilRedisIsBack(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	hub := NewHub(testLogger())
	relay := NewRedisRelay(client, "lifecycle:events", hub, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.RunWithRetry(ctx, 10*time.Millisecond, 50*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, mr.Restart())

	select {
	case <-relay.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("relay did not resubscribe after redis came back")
	}

	sub := hub.Subscribe("obs", UserTopic("u1"))
	require.NoError(t, relay.Publish(ctx, mustEvent(t, EventNotificationCreated, UserTopic("u1"))))
	assert.Equal(t, EventNotificationCreated, receive(t, sub).Type)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
