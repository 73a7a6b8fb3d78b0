// Package cache holds the engine's Redis state: resolved profile URLs,
// per-code visitor markers and per-IP token buckets.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPoolSize is used when New is given a non-positive pool size.
const DefaultPoolSize = 10

// Cache wraps a Redis client with the engine's key layout.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL and verifies the connection with a ping.
func New(ctx context.Context, redisURL string, poolSize int) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tunePool(opt, poolSize)

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// tunePool sizes the pool for short scan-path commands.
func tunePool(opt *redis.Options, size int) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	opt.PoolSize = size
	opt.MinIdleConns = max(size/5, 1)
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping implements the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client to the analytics stream.
func (c *Cache) Client() *redis.Client {
	return c.client
}
