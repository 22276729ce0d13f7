// Package ratelimit throttles relay requests per tenant.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another request may proceed for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Noop allows every request.
type Noop struct{}

// Allow always returns true.
func (Noop) Allow(context.Context, string) (bool, error) {
	return true, nil
}

// RedisLimiter implements a fixed window limit backed by Redis sorted sets.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit requests per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Connect parses redisURL, pings the server, and returns a limiter.
func Connect(ctx context.Context, redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLimiter(client, limit, window), nil
}

// Close closes the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Allow records the request and reports whether it is within the limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	windowKey := l.windowKey(key, now)
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit pipeline: %w", err)
	}

	return countCmd.Val() < int64(l.limit), nil
}

// windowKey buckets key by the current window.
func (l *RedisLimiter) windowKey(key string, now time.Time) string {
	return fmt.Sprintf("ratelimit:relay:%s:%d", key, now.Unix()/int64(l.window.Seconds()))
}
