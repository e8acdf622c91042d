package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue holds media task ids in a ready list, an in-flight lease set and a retry schedule.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue whose keys share prefix.
func NewRedisQueue(client *redis.Client, prefix string, visibility time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "media"
	}
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + ":ready",
		inflightKey:   prefix + ":inflight",
		scheduledKey:  prefix + ":scheduled",
		dlqKey:        prefix + ":dlq",
		visibilityTTL: visibility,
	}
}

// Enqueue makes a task ready now, or schedules it when runAt is in the future.
func (q *RedisQueue) Enqueue(ctx context.Context, taskID string, runAt time.Time) error {
	if runAt.After(time.Now()) {
		return q.Schedule(ctx, taskID, runAt)
	}
	return q.client.RPush(ctx, q.readyKey, taskID).Err()
}

// Schedule defers a task until runAt.
func (q *RedisQueue) Schedule(ctx context.Context, taskID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: taskID}).Err()
}

// PromoteScheduled moves due tasks into the ready list and returns how many moved.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next ready task and leases it for the visibility timeout.
// It returns "" when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	taskID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return taskID, nil
}

// ExtendLease pushes the visibility deadline of an in-flight task forward.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack drops the lease of a task.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	return q.client.ZRem(ctx, q.inflightKey, taskID).Err()
}

// RequeueExpired returns timed-out leases to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush records a task that exhausted its attempts.
func (q *RedisQueue) DLQPush(ctx context.Context, taskID string) error {
	return q.client.RPush(ctx, q.dlqKey, taskID).Err()
}

// DLQPeek reads up to count dead-lettered task ids.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// ReadyDepth returns the number of ready tasks.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local task = redis.call('LPOP', KEYS[1])
if task then
  redis.call('ZADD', KEYS[2], ARGV[1], task)
  return task
end
return nil
`)
