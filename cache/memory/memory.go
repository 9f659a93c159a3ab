// Package memory provides an in-process cache.Cache. It is suitable for
// development, tests and single-instance deployments.
package memory

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Jnavarr56/authentication-api/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-memory cache.Cache with lazy expiry on read and a
// background sweep.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var _ cache.Cache = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now. Used by tests to move time.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithCleanupInterval sets how often expired entries are swept (default 1 minute).
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.cleanupInterval = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache and starts its sweep goroutine. Call Stop when done.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:         make(map[string]entry),
		now:             time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()
	return c
}

// Set stores a copy of value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return cache.ErrInvalidTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: bytes.Clone(value), expiresAt: c.now().Add(ttl)}
	return nil
}

// Get returns a copy of the live value under key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expiresAt) {
		return nil, cache.ErrMiss
	}
	return bytes.Clone(e.value), nil
}

// Take removes key under the write lock and returns its value if it was live.
func (c *Cache) Take(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	delete(c.entries, key)

	if !c.now().Before(e.expiresAt) {
		return nil, cache.ErrMiss
	}
	return e.value, nil
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept expired cache entries", "removed", n)
			}
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop ends the sweep goroutine. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
