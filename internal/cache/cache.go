// Package cache wraps the Redis counters used for request rate limiting and
// the redis health check.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/racketdrop/internal/config"
)

// Counter is the interface the API middleware depends on.
type Counter interface {
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements Counter using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache for the configured server.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// IncrWithExpiry increments key in one transaction. The TTL is only set when
// the key has none, so the window starts at the first increment and later
// increments never extend it.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// RateLimitKey namespaces a per-client counter for the current minute.
func RateLimitKey(client string) string {
	return "ratelimit:" + client
}

var _ Counter = (*RedisCache)(nil)
