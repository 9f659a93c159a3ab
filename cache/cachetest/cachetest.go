// Package cachetest holds the behaviour every cache.Cache backend must share.
// Backend test files call Run with a constructor for a fresh, empty cache.
package cachetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jnavarr56/authentication-api/cache"
)

// Run exercises c against the cache.Cache contract.
func Run(t *testing.T, newCache func(t *testing.T) cache.Cache) {
	t.Helper()

	t.Run("SetGet", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		if err := c.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := c.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("Get() = %q, want v1", got)
		}

		// Get does not consume.
		if _, err := c.Get(ctx, "k"); err != nil {
			t.Errorf("second Get() error = %v", err)
		}

		if err := c.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
			t.Fatalf("Set() overwrite error = %v", err)
		}
		got, _ = c.Get(ctx, "k")
		if string(got) != "v2" {
			t.Errorf("Get() after overwrite = %q, want v2", got)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		if _, err := c.Get(ctx, "absent"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Get() error = %v, want ErrMiss", err)
		}
		if _, err := c.Take(ctx, "absent"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Take() error = %v, want ErrMiss", err)
		}
		if err := c.Delete(ctx, "absent"); err != nil {
			t.Errorf("Delete() of absent key error = %v", err)
		}
	})

	t.Run("TakeIsSingleUse", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		_ = c.Set(ctx, "once", []byte("payload"), time.Minute)

		got, err := c.Take(ctx, "once")
		if err != nil {
			t.Fatalf("Take() error = %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("Take() = %q, want payload", got)
		}
		if _, err := c.Take(ctx, "once"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("second Take() error = %v, want ErrMiss", err)
		}
		if _, err := c.Get(ctx, "once"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Get() after Take error = %v, want ErrMiss", err)
		}
	})

	t.Run("ConcurrentTake", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		const workers = 16
		for round := 0; round < 5; round++ {
			key := fmt.Sprintf("race-%d", round)
			_ = c.Set(ctx, key, []byte("x"), time.Minute)

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := c.Take(ctx, key); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := wins.Load(); got != 1 {
				t.Errorf("round %d: %d concurrent Takes succeeded, want 1", round, got)
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		_ = c.Set(ctx, "gone", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "gone"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := c.Get(ctx, "gone"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Get() after Delete error = %v, want ErrMiss", err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c := newCache(t)
		ctx := context.Background()

		_ = c.Set(ctx, "short", []byte("v"), 50*time.Millisecond)
		_ = c.Set(ctx, "short-take", []byte("v"), 50*time.Millisecond)
		time.Sleep(150 * time.Millisecond)

		if _, err := c.Get(ctx, "short"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Get() after expiry error = %v, want ErrMiss", err)
		}
		if _, err := c.Take(ctx, "short-take"); !errors.Is(err, cache.ErrMiss) {
			t.Errorf("Take() after expiry error = %v, want ErrMiss", err)
		}
	})

	t.Run("InvalidTTL", func(t *testing.T) {
		c := newCache(t)
		if err := c.Set(context.Background(), "k", []byte("v"), 0); !errors.Is(err, cache.ErrInvalidTTL) {
			t.Errorf("Set() with zero ttl error = %v, want ErrInvalidTTL", err)
		}
	})
}
