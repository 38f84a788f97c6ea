// Package timebudget tracks the per-user call-seconds budget in Redis. The
// call core deducts one second per countdown tick through a callback, so the
// call package never depends on subscription internals.
package timebudget

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BudgetPrefix is the Redis key prefix for call-seconds budgets.
	BudgetPrefix = "budget:"

	// DefaultCallSeconds seeds new subscribers who have never been granted a
	// budget explicitly.
	DefaultCallSeconds = 600
)

// Store manages call-seconds budgets in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a budget store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Remaining returns the user's remaining call seconds. Users without a
// budget key fall back to DefaultCallSeconds and the key is seeded lazily.
func (s *Store) Remaining(ctx context.Context, uid string) (int, error) {
	key := BudgetPrefix + uid
	val, err := s.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		if err := s.rdb.Set(ctx, key, DefaultCallSeconds, 0).Err(); err != nil {
			return 0, fmt.Errorf("timebudget: seed %s: %w", uid, err)
		}
		return DefaultCallSeconds, nil
	}
	if err != nil {
		return 0, err
	}
	if val < 0 {
		return 0, nil
	}
	return val, nil
}

// Grant adds seconds to the user's budget (subscription renewals, top-ups).
func (s *Store) Grant(ctx context.Context, uid string, seconds int) error {
	key := BudgetPrefix + uid
	if err := s.rdb.IncrBy(ctx, key, int64(seconds)).Err(); err != nil {
		return fmt.Errorf("timebudget: grant %s: %w", uid, err)
	}
	return nil
}

// Set replaces the user's budget outright.
func (s *Store) Set(ctx context.Context, uid string, seconds int) error {
	return s.rdb.Set(ctx, BudgetPrefix+uid, seconds, 0).Err()
}

// DeductSecond removes one second from the user's budget. It is invoked once
// per countdown tick while a call is active. Deduction failures are logged
// and swallowed so a Redis hiccup never tears down a live call.
func (s *Store) DeductSecond(uid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.rdb.DecrBy(ctx, BudgetPrefix+uid, 1).Err(); err != nil {
		log.Printf("[timebudget] deduct uid=%s: %v", uid, err)
	}
}
