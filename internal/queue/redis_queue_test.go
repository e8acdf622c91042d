package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "test", time.Minute), mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-1", time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	depth, _ := q.ReadyDepth(ctx)
	if depth != 1 {
		t.Fatalf("expected depth 1 got %d", depth)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "task-1" {
		t.Fatalf("expected task-1 got %q err=%v", id, err)
	}
	id, err = q.DequeueWithLease(ctx)
	if err != nil || id != "" {
		t.Fatalf("expected empty queue got %q err=%v", id, err)
	}
	if err := q.Ack(ctx, "task-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil || len(reclaimed) != 0 {
		t.Fatalf("acked task must not be reclaimed: %v %v", reclaimed, err)
	}
}

func TestExpiredLeaseIsRequeued(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_ = q.Enqueue(ctx, "task-2", time.Now())
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil || len(reclaimed) != 1 || reclaimed[0] != "task-2" {
		t.Fatalf("expected task-2 reclaimed got %v err=%v", reclaimed, err)
	}
	id, _ := q.DequeueWithLease(ctx)
	if id != "task-2" {
		t.Fatalf("expected task-2 ready again got %q", id)
	}
}

func TestScheduledPromotionAndDLQ(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "task-3", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "" {
		t.Fatalf("scheduled task dequeued early: %q", id)
	}
	n, err := q.PromoteScheduled(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 promoted got %d err=%v", n, err)
	}
	if id, _ := q.DequeueWithLease(ctx); id != "task-3" {
		t.Fatalf("expected task-3 got %q", id)
	}

	_ = q.DLQPush(ctx, "task-3")
	ids, err := q.DLQPeek(ctx, 10)
	if err != nil || len(ids) != 1 || ids[0] != "task-3" {
		t.Fatalf("expected task-3 in dlq got %v err=%v", ids, err)
	}
}
