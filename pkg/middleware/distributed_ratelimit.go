package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements fixed-window rate limiting in Redis
// so that limits are shared across replicas
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config implements Limiter
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow implements Limiter
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	n, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	// Only the first hit opens the window so it does not slide
	if n == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	count := int(n)
	remaining := rl.config.capacity() - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.capacity(), remaining, nil
}

// Reset clears the counter for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}
