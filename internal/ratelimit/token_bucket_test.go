package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"job-lifecycle-service/internal/models"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)
	key := MessageKey("wrk-1")

	allowed, _, err := bucket.Allow(ctx, key)
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, key)
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, key)
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	allowed, _, _ = bucket.Allow(ctx, MessageKey("emp-1"))
	if !allowed {
		t.Fatalf("expected buckets to be per user")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 1, 1, time.Minute)
	clock := time.Now()
	bucket.now = func() time.Time { return clock }

	if allowed, _, _ := bucket.Allow(ctx, "k"); !allowed {
		t.Fatalf("expected first token allowed")
	}
	if allowed, _, _ := bucket.Allow(ctx, "k"); allowed {
		t.Fatalf("expected empty bucket")
	}
	clock = clock.Add(1500 * time.Millisecond)
	allowed, remaining, err := bucket.Allow(ctx, "k")
	if err != nil || !allowed {
		t.Fatalf("expected refilled token got allowed=%v err=%v", allowed, err)
	}
	if remaining != 0 {
		t.Fatalf("expected bucket capped at capacity then drained, got %v", remaining)
	}
}

func TestTokenBucketUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	_, _, err = NewTokenBucket(client, 1, 1, time.Minute).Allow(context.Background(), "k")
	if !errors.Is(err, models.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
