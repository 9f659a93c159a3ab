// Package redis provides a cache.Cache backed by a Redis server addressed by
// URL, e.g. a managed Redis where only a REDIS_URL is available.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Jnavarr56/authentication-api/cache"
)

// DefaultKeyPrefix is the default prefix for all keys.
const DefaultKeyPrefix = "authapi:"

// Cache is a Redis-backed cache.Cache.
type Cache struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
	owned  bool
}

var _ cache.Cache = (*Cache)(nil)

// Connect parses a redis:// or rediss:// URL, dials and pings the server.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// New connects to url and returns a cache that owns its client.
func New(ctx context.Context, url, prefix string, logger *slog.Logger) (*Cache, error) {
	client, err := Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	c := NewFromClient(client, prefix, logger)
	c.owned = true
	c.logger.Info("Connected to Redis cache", "prefix", c.prefix)
	return c, nil
}

// NewFromClient wraps an existing client. Close does not close a shared client.
func NewFromClient(client *goredis.Client, prefix string, logger *slog.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, prefix: prefix, logger: logger}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Set stores value for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Get reads a key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}
	return data, nil
}

// Take reads and deletes a key with GETDEL.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.GetDel(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take cache key: %w", err)
	}
	return data, nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Close closes the client if this cache created it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
