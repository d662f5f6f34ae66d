// redis.go -- go-redis backed KV.
//
// Every key is namespaced with a prefix so several deployments can share one
// Redis. TTLs map onto native key expiry.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup from main.go...returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisKV implements KV on a shared Redis client.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisKV wraps rdb. prefix is prepended to every key (e.g. "warden:").
func NewRedisKV(rdb *redis.Client, prefix string) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: prefix}
}

func (s *RedisKV) key(k string) string { return s.prefix + k }

// Get returns ErrNotFound on redis.Nil.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return raw, nil
}

// Set stores value. ttl <= 0 stores without expiry (go-redis treats 0 as "keep forever").
func (s *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// Delete removes all keys in one DEL.
func (s *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisKV) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
