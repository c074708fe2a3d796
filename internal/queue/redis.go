package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue implements Queue on Redis lists: LPUSH to enqueue, BRPOP across
// all served region keys to dequeue. A popped message that fails processing
// is not re-queued here; re-running a job is a new job.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, key string, msg DispatchMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch message: %w", err)
	}
	return q.client.LPush(ctx, key, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, keys []string) (DispatchMessage, error) {
	for {
		// A finite block interval keeps context cancellation responsive even
		// on server-side connection hiccups.
		vals, err := q.client.BRPop(ctx, 5*time.Second, keys...).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return DispatchMessage{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			return DispatchMessage{}, err
		}
		if len(vals) < 2 {
			return DispatchMessage{}, fmt.Errorf("unexpected BRPOP response: %v", vals)
		}
		var msg DispatchMessage
		if err := json.Unmarshal([]byte(vals[1]), &msg); err != nil {
			return DispatchMessage{}, fmt.Errorf("malformed dispatch message: %w", err)
		}
		return msg, nil
	}
}
