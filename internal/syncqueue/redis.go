package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// PendingKey is the Redis list holding queued updates, oldest first.
const PendingKey = "subsync:pending"

// RedisQueue is a Queue backed by a Redis list. Entries are JSON-encoded
// Update values; Ack removes by matching the entry id.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a Redis-backed pending-update queue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Enqueue appends the update and trims the list to MaxPending, dropping the
// oldest entries on overflow.
func (q *RedisQueue) Enqueue(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("syncqueue: marshal update: %w", err)
	}

	pipe := q.rdb.Pipeline()
	push := pipe.RPush(ctx, PendingKey, data)
	pipe.LTrim(ctx, PendingKey, -int64(MaxPending), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("syncqueue: enqueue: %w", err)
	}

	if n := push.Val(); n > MaxPending {
		log.Printf("[syncqueue] overflow: dropped %d oldest pending update(s)", n-MaxPending)
	}
	return nil
}

// Pending returns all queued updates in FIFO order. Entries that fail to
// decode are skipped and logged; they will be dropped by the next overflow
// trim rather than poisoning every retry pass.
func (q *RedisQueue) Pending(ctx context.Context) ([]Update, error) {
	raw, err := q.rdb.LRange(ctx, PendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("syncqueue: pending: %w", err)
	}

	updates := make([]Update, 0, len(raw))
	for _, item := range raw {
		var u Update
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			log.Printf("[syncqueue] skipping malformed entry: %v", err)
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// Ack removes the entry with the given id. LREM needs the exact stored
// bytes, so the entry is located by scanning the list first.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	raw, err := q.rdb.LRange(ctx, PendingKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("syncqueue: ack scan: %w", err)
	}

	for _, item := range raw {
		var u Update
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			continue
		}
		if u.ID == id {
			if err := q.rdb.LRem(ctx, PendingKey, 1, item).Err(); err != nil {
				return fmt.Errorf("syncqueue: ack remove: %w", err)
			}
			return nil
		}
	}
	return nil
}

// Len returns the current queue depth.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, PendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("syncqueue: len: %w", err)
	}
	return int(n), nil
}
