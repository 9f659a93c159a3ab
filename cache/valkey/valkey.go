// Package valkey provides a cache.Cache backed by Valkey (or any server
// speaking the Redis protocol with GETDEL support, 6.2+).
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/Jnavarr56/authentication-api/cache"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authapi:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey cache.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	Password string
	DB       int

	// KeyPrefix namespaces keys so the state and token caches can share a
	// server (default "authapi:").
	KeyPrefix string

	TLS    *tls.Config
	Logger *slog.Logger
}

// Cache is a Valkey-backed cache.Cache.
type Cache struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	owned  bool
}

var _ cache.Cache = (*Cache)(nil)

// Connect dials Valkey and verifies the connection with PING. The returned
// client can be shared between caches with NewFromClient.
func Connect(cfg Config) (valkeygo.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return client, nil
}

// New connects and returns a cache that owns its client.
func New(cfg Config) (*Cache, error) {
	client, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	c := NewFromClient(client, cfg.KeyPrefix, cfg.Logger)
	c.owned = true
	c.logger.Info("Connected to Valkey cache",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", c.prefix)
	return c, nil
}

// NewFromClient wraps an existing client. Close does not close a shared client.
func NewFromClient(client valkeygo.Client, prefix string, logger *slog.Logger) *Cache {
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

// Set stores value with SET PX.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}
	// PX has millisecond resolution; round sub-millisecond TTLs up.
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	cmd := c.client.B().Set().Key(c.key(key)).Value(string(value)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Get reads a key with GET.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}
	return data, nil
}

// Take reads and deletes a key in one GETDEL round trip.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Do(ctx, c.client.B().Getdel().Key(c.key(key)).Build()).AsBytes()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("failed to take cache key: %w", err)
	}
	return data, nil
}

// Delete removes a key with DEL.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Close closes the client if this cache created it.
func (c *Cache) Close() {
	if c.owned {
		c.client.Close()
		c.logger.Info("Valkey cache connection closed")
	}
}
