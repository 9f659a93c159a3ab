// Package storagetest holds the behaviour every storage.RecordStore backend
// must share.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Jnavarr56/authentication-api/internal/testutil"
	"github.com/Jnavarr56/authentication-api/storage"
)

// Run exercises the store returned by newStore against the RecordStore
// contract. Each subtest gets a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.RecordStore) {
	t.Helper()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("CreateThenFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := testutil.NewRecord(base)
		if err := s.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}

		got, err := s.FindLatestByAccessToken(ctx, rec.AccessToken)
		if err != nil {
			t.Fatalf("FindLatestByAccessToken() error = %v", err)
		}
		testutil.AssertRecordEqual(t, got, rec)
	})

	t.Run("EmptyUserID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := testutil.NewRecord(base)
		rec.UserID = ""
		if err := s.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
		got, err := s.FindLatestByAccessToken(ctx, rec.AccessToken)
		if err != nil {
			t.Fatalf("FindLatestByAccessToken() error = %v", err)
		}
		if got.UserID != "" {
			t.Errorf("UserID = %q, want empty", got.UserID)
		}
	})

	t.Run("ZeroExpiry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := testutil.NewRecord(base)
		rec.ExpiresAt = time.Time{}
		if err := s.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
		got, err := s.FindLatestByAccessToken(ctx, rec.AccessToken)
		if err != nil {
			t.Fatalf("FindLatestByAccessToken() error = %v", err)
		}
		if !got.ExpiresAt.IsZero() {
			t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindLatestByAccessToken(context.Background(), "missing")
		if !errors.Is(err, storage.ErrRecordNotFound) {
			t.Errorf("FindLatestByAccessToken() error = %v, want ErrRecordNotFound", err)
		}
	})

	t.Run("DuplicateAccessToken", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := testutil.NewRecord(base)
		if err := s.CreateRecord(ctx, first); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}

		second := testutil.NewRecord(base.Add(time.Minute))
		second.AccessToken = first.AccessToken
		if err := s.CreateRecord(ctx, second); !errors.Is(err, storage.ErrDuplicateAccessToken) {
			t.Errorf("CreateRecord() duplicate error = %v, want ErrDuplicateAccessToken", err)
		}

		got, _ := s.FindLatestByAccessToken(ctx, first.AccessToken)
		if got == nil || got.ID != first.ID {
			t.Errorf("duplicate insert replaced the original record")
		}
	})

	t.Run("HistoryRetained", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := testutil.NewRecord(base)
		rotated := testutil.NewRecord(base.Add(2 * time.Hour))
		rotated.ProviderID = old.ProviderID
		rotated.UserID = old.UserID
		rotated.RefreshToken = old.RefreshToken

		for _, rec := range []*storage.Record{old, rotated} {
			if err := s.CreateRecord(ctx, rec); err != nil {
				t.Fatalf("CreateRecord() error = %v", err)
			}
		}

		for _, rec := range []*storage.Record{old, rotated} {
			got, err := s.FindLatestByAccessToken(ctx, rec.AccessToken)
			if err != nil {
				t.Fatalf("FindLatestByAccessToken(%s) error = %v", rec.ID, err)
			}
			testutil.AssertRecordEqual(t, got, rec)
		}
	})

	t.Run("Replacement", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := testutil.NewRecord(base)
		if err := s.CreateRecord(ctx, old); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
		if replaced, err := s.IsReplaced(ctx, old.ID); err != nil || replaced {
			t.Fatalf("IsReplaced() before rotation = %v, %v; want false, nil", replaced, err)
		}

		next := testutil.NewRecord(base.Add(2 * time.Hour))
		next.ReplacesID = old.ID
		if err := s.CreateRecord(ctx, next); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}
		if replaced, err := s.IsReplaced(ctx, old.ID); err != nil || !replaced {
			t.Errorf("IsReplaced(old) = %v, %v; want true, nil", replaced, err)
		}
		if replaced, err := s.IsReplaced(ctx, next.ID); err != nil || replaced {
			t.Errorf("IsReplaced(next) = %v, %v; want false, nil", replaced, err)
		}

		got, err := s.FindLatestByAccessToken(ctx, next.AccessToken)
		if err != nil {
			t.Fatalf("FindLatestByAccessToken() error = %v", err)
		}
		testutil.AssertRecordEqual(t, got, next)

		fork := testutil.NewRecord(base.Add(3 * time.Hour))
		fork.ReplacesID = old.ID
		if err := s.CreateRecord(ctx, fork); !errors.Is(err, storage.ErrAlreadyReplaced) {
			t.Errorf("CreateRecord() second replacement error = %v, want ErrAlreadyReplaced", err)
		}
		if _, err := s.FindLatestByAccessToken(ctx, fork.AccessToken); !errors.Is(err, storage.ErrRecordNotFound) {
			t.Errorf("rejected replacement was stored: %v", err)
		}
	})

	t.Run("ConcurrentReplacement", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		old := testutil.NewRecord(base)
		if err := s.CreateRecord(ctx, old); err != nil {
			t.Fatalf("CreateRecord() error = %v", err)
		}

		var created atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := testutil.NewRecord(base.Add(time.Duration(i+1) * time.Second))
				rec.ReplacesID = old.ID
				if s.CreateRecord(ctx, rec) == nil {
					created.Add(1)
				}
			}(i)
		}
		wg.Wait()

		if got := created.Load(); got != 1 {
			t.Errorf("%d concurrent replacements of one record succeeded, want 1", got)
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		self := uuid.New()

		for name, rec := range map[string]*storage.Record{
			"nil":           nil,
			"no id":         {AccessToken: "a", CreatedAt: base},
			"no token":      {ID: uuid.New(), CreatedAt: base},
			"no timestamp":  {ID: uuid.New(), AccessToken: "a"},
			"replaces self": {ID: self, AccessToken: "a", CreatedAt: base, ReplacesID: self},
		} {
			if err := s.CreateRecord(ctx, rec); err == nil {
				t.Errorf("CreateRecord(%s) expected error", name)
			}
		}
	})

	t.Run("ConcurrentDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		token := testutil.GenerateRandomString(32)

		var created atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := testutil.NewRecord(base.Add(time.Duration(i) * time.Second))
				rec.AccessToken = token
				if s.CreateRecord(ctx, rec) == nil {
					created.Add(1)
				}
			}(i)
		}
		wg.Wait()

		if got := created.Load(); got != 1 {
			t.Errorf("%d concurrent creates with one access token succeeded, want 1", got)
		}
	})
}
