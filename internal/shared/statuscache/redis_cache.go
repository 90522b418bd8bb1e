package statuscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*RedisCache)(nil)

// RedisCache shares the paid fast path across instances. Expiry rides on
// the redis key TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	opts   Options
}

// RedisCacheOption configures the redis cache.
type RedisCacheOption func(*RedisCache)

// WithRedisPrefix sets a prefix for all redis keys.
func WithRedisPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a redis-backed status cache.
func NewRedisCache(client *redis.Client, opts Options, cacheOpts ...RedisCacheOption) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("statuscache: redis client is required")
	}

	c := &RedisCache{
		client: client,
		prefix: "order-status",
		opts:   opts.withDefaults(),
	}

	for _, opt := range cacheOpts {
		opt(c)
	}

	return c, nil
}

func (c *RedisCache) key(orderID string) string {
	return c.prefix + ":" + orderID
}

func (c *RedisCache) IsPaid(ctx context.Context, orderID string) (bool, error) {
	value, err := c.client.Get(ctx, c.key(orderID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("statuscache: redis get failed: %w", err)
	}

	return value == "paid", nil
}

func (c *RedisCache) MarkPaid(ctx context.Context, orderID string) error {
	if err := c.client.Set(ctx, c.key(orderID), "paid", c.opts.TTL).Err(); err != nil {
		return fmt.Errorf("statuscache: redis set failed: %w", err)
	}

	return nil
}
