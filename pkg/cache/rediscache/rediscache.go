package rediscache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/asakaida/portaria/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// Cache implements cache.Cache on top of Redis so that several engine
// processes share one set of cached rules and period instances.
// Backend errors are counted and reported as misses.
type Cache struct {
	client *redis.Client
	prefix string

	hits   atomic.Uint64
	misses atomic.Uint64
	added  atomic.Uint64
	errs   atomic.Uint64
}

// Config holds configuration for the Redis cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "portaria:"
	Prefix string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg *Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get retrieves a value from Redis.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errs.Add(1)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

// Set stores a value in Redis with the specified TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	c.added.Add(1)
	return nil
}

// Delete removes a value from Redis.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Clear removes every key under the configured prefix.
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.errs.Add(1)
		return fmt.Errorf("failed to clear cache keys: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Metrics returns cache statistics.
func (c *Cache) Metrics() *cache.Metrics {
	return &cache.Metrics{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		KeysAdded: c.added.Load(),
		Errors:    c.errs.Load(),
	}
}
