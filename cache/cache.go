// Package cache defines the volatile key/value tier shared by the CSRF state
// manager and the credential store.
//
// Implementations guarantee single-key atomicity only. There are no
// multi-key transactions. Two independent instances are normally used: one
// owned by the state manager and one owned by the credential store.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get and Take when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a keyed store with per-key expiry.
type Cache interface {
	// Set stores value under key for ttl. A non-positive ttl is rejected.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Take atomically returns and removes the value under key, or ErrMiss.
	// Of several concurrent Takes on the same key at most one succeeds.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// ErrInvalidTTL is returned by Set for a non-positive ttl.
var ErrInvalidTTL = errors.New("cache ttl must be positive")
