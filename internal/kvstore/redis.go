package kvstore

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// Redis is a Store backed by a single Redis hash, one hash per cache scope
// (typically "subcache:<uid>"). The Store interface treats local cache writes
// as infallible, so Redis errors are logged and reads fall back to zero
// values; callers always get stale-but-usable state rather than an error.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis creates a Redis-backed store over the given hash key.
func NewRedis(rdb *redis.Client, key string) *Redis {
	return &Redis{rdb: rdb, key: key}
}

func (r *Redis) get(field string) string {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	val, err := r.rdb.HGet(ctx, r.key, field).Result()
	if err == redis.Nil {
		return ""
	}
	if err != nil {
		log.Printf("[kvstore] hget %s %s: %v", r.key, field, err)
		return ""
	}
	return val
}

func (r *Redis) set(field, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.rdb.HSet(ctx, r.key, field, value).Err(); err != nil {
		log.Printf("[kvstore] hset %s %s: %v", r.key, field, err)
	}
}

// GetString returns the stored value, or "" if absent.
func (r *Redis) GetString(key string) string { return r.get(key) }

// SetString stores a string value.
func (r *Redis) SetString(key, value string) { r.set(key, value) }

// GetBool returns the stored value, or false if absent or malformed.
func (r *Redis) GetBool(key string) bool { return r.get(key) == "true" }

// SetBool stores a boolean value.
func (r *Redis) SetBool(key string, value bool) { r.set(key, strconv.FormatBool(value)) }

// GetInt64 returns the stored value, or 0 if absent or malformed.
func (r *Redis) GetInt64(key string) int64 {
	v, err := strconv.ParseInt(r.get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SetInt64 stores an integer value.
func (r *Redis) SetInt64(key string, value int64) { r.set(key, strconv.FormatInt(value, 10)) }

// SetMany applies all entries as a single HSET so readers never observe a
// partially applied bulk write.
func (r *Redis) SetMany(entries map[string]interface{}) {
	fields := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		fields[k] = encode(v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.rdb.HSet(ctx, r.key, fields).Err(); err != nil {
		log.Printf("[kvstore] hset bulk %s: %v", r.key, err)
	}
}

// Delete removes a field from the hash.
func (r *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.rdb.HDel(ctx, r.key, key).Err(); err != nil {
		log.Printf("[kvstore] hdel %s %s: %v", r.key, key, err)
	}
}
