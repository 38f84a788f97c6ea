// Package presence tracks the per-user on_call flag on the top-level user
// record. Other services read it to gate incoming-call eligibility, so it is
// set true at call start and cleared during teardown for both participants.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for user record hashes.
	UserPrefix = "user:"

	// onCallField is the hash field holding the on-call flag.
	onCallField = "on_call"
)

// Store manages on-call presence flags in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a presence store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SetOnCall sets a single user's on-call flag.
func (s *Store) SetOnCall(ctx context.Context, uid string, onCall bool) error {
	key := UserPrefix + uid
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, onCallField, boolStr(onCall), "last_active", time.Now().Unix())
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: set on_call uid=%s: %w", uid, err)
	}
	return nil
}

// SetOnCallBoth sets both participants' on-call flags in one pipeline so the
// pair changes together at call start and call end.
func (s *Store) SetOnCallBoth(ctx context.Context, uidA, uidB string, onCall bool) error {
	now := time.Now().Unix()
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, UserPrefix+uidA, onCallField, boolStr(onCall), "last_active", now)
	pipe.HSet(ctx, UserPrefix+uidB, onCallField, boolStr(onCall), "last_active", now)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: set on_call pair: %w", err)
	}
	return nil
}

// IsOnCall reports whether a user is currently flagged as on a call. A
// missing record reads as not on call.
func (s *Store) IsOnCall(ctx context.Context, uid string) (bool, error) {
	val, err := s.rdb.HGet(ctx, UserPrefix+uid, onCallField).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "true", nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
