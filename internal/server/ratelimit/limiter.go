// Package ratelimit throttles login attempts per client IP with fixed
// windows counted in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("too many login attempts")
	ErrRedisUnavailable = errors.New("rate limit store unavailable")
)

const keyPrefix = "tradeauth:login:ip:"

// Limiter allows at most limit attempts per key within each window.
type Limiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{redis: client, limit: int64(limit), window: window}
}

// Allow counts one attempt for ip. It returns ErrRateLimited together with
// the time left in the window once the limit is exceeded.
func (l *Limiter) Allow(ctx context.Context, ip string) (time.Duration, error) {
	if ip == "" {
		return 0, nil
	}
	key := keyPrefix + ip

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > l.limit {
		ttl, err := l.redis.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return ttl, ErrRateLimited
	}

	return 0, nil
}
