package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps fixed-window counters in Redis so every gateway instance
// sees the same count for a client.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(clientKey string) string {
	return fmt.Sprintf("%s:%s", s.prefix, clientKey)
}

// Hit increments the window counter. The first hit of a window sets the key
// expiry, so the window resets when Redis evicts it.
func (s *RedisStore) Hit(ctx context.Context, clientKey string, now time.Time, window time.Duration) (int, time.Time, error) {
	key := s.key(clientKey)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return int(count), now.Add(window), fmt.Errorf("rate limit expire: %w", err)
		}
		return int(count), now.Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return int(count), now.Add(window), fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// key lost its expiry (e.g. a crash between INCR and PEXPIRE); restore it
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return int(count), now.Add(window), fmt.Errorf("rate limit expire: %w", err)
		}
		ttl = window
	}
	return int(count), now.Add(ttl), nil
}
