package credstore

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jnavarr56/authentication-api/cache"
	cachememory "github.com/Jnavarr56/authentication-api/cache/memory"
	"github.com/Jnavarr56/authentication-api/internal/testutil"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/storage"
	storagememory "github.com/Jnavarr56/authentication-api/storage/memory"
)

// countingStore wraps a RecordStore and can be told to fail writes.
type countingStore struct {
	storage.RecordStore
	finds     atomic.Int32
	createErr error
}

func (c *countingStore) CreateRecord(ctx context.Context, rec *storage.Record) error {
	if c.createErr != nil {
		return c.createErr
	}
	return c.RecordStore.CreateRecord(ctx, rec)
}

func (c *countingStore) FindLatestByAccessToken(ctx context.Context, at string) (*storage.Record, error) {
	c.finds.Add(1)
	return c.RecordStore.FindLatestByAccessToken(ctx, at)
}

type brokenCache struct {
	cache.Cache
}

func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache unavailable")
}

type fixture struct {
	store   *Store
	durable *countingStore
	cache   *cachememory.Cache
	clock   *testutil.MockTime
}

func newFixture(t *testing.T, enc *security.Encryptor) *fixture {
	t.Helper()
	clock := testutil.NewMockTime(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	c := cachememory.New(cachememory.WithClock(clock.Now))
	t.Cleanup(c.Stop)
	durable := &countingStore{RecordStore: storagememory.New()}

	s, err := New(Config{Durable: durable, Cache: c, Encryptor: enc, Now: clock.Now})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{store: s, durable: durable, cache: c, clock: clock}
}

func TestNew_RequiresTiers(t *testing.T) {
	if _, err := New(Config{Cache: cachememory.New()}); err == nil {
		t.Error("New() without durable store expected error")
	}
	if _, err := New(Config{Durable: storagememory.New()}); err == nil {
		t.Error("New() without cache expected error")
	}
}

func TestPutThenGet_CacheHit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testutil.NewRecord(f.clock.Now())

	if err := f.store.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := f.store.Get(ctx, rec.AccessToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	testutil.AssertRecordEqual(t, got, rec)
	if n := f.durable.finds.Load(); n != 0 {
		t.Errorf("cache hit performed %d durable reads, want 0", n)
	}
}

func TestPut_DurableFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	outage := errors.New("disk full")
	f.durable.createErr = outage

	rec := testutil.NewRecord(f.clock.Now())
	err := f.store.Put(ctx, rec)
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("Put() error = %v, want ErrPersistFailed", err)
	}
	if !errors.Is(err, outage) {
		t.Errorf("Put() error = %v, want wrapped cause", err)
	}
	if _, err := f.cache.Get(ctx, rec.AccessToken); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("cache populated after failed durable write: %v", err)
	}
}

func TestPut_DuplicateAccessToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := testutil.NewRecord(f.clock.Now())
	if err := f.store.Put(ctx, first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second := testutil.NewRecord(f.clock.Now())
	second.AccessToken = first.AccessToken

	err := f.store.Put(ctx, second)
	if !errors.Is(err, ErrPersistFailed) || !errors.Is(err, storage.ErrDuplicateAccessToken) {
		t.Errorf("Put() duplicate error = %v", err)
	}
}

func TestSuperseded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	old := testutil.NewRecord(f.clock.Now())
	if err := f.store.Put(ctx, old); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got, err := f.store.Superseded(ctx, old); err != nil || got {
		t.Fatalf("Superseded() before rotation = %v, %v, want false", got, err)
	}

	next := testutil.NewRecord(f.clock.Now())
	next.ReplacesID = old.ID
	if err := f.store.Put(ctx, next); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if got, err := f.store.Superseded(ctx, old); err != nil || !got {
		t.Errorf("Superseded(old) = %v, %v, want true", got, err)
	}
	if got, err := f.store.Superseded(ctx, next); err != nil || got {
		t.Errorf("Superseded(next) = %v, %v, want false", got, err)
	}

	fork := testutil.NewRecord(f.clock.Now())
	fork.ReplacesID = old.ID
	err := f.store.Put(ctx, fork)
	if !errors.Is(err, ErrPersistFailed) || !errors.Is(err, storage.ErrAlreadyReplaced) {
		t.Errorf("Put() second successor error = %v, want ErrAlreadyReplaced", err)
	}
	if _, err := f.cache.Get(ctx, fork.AccessToken); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("rejected successor cached: %v", err)
	}
}

func TestPut_CacheFailureIgnored(t *testing.T) {
	durable := storagememory.New()
	s, err := New(Config{Durable: durable, Cache: brokenCache{Cache: cachememory.New()}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	rec := testutil.NewRecord(time.Now())

	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v, want nil after durable success", err)
	}
	if _, err := durable.FindLatestByAccessToken(ctx, rec.AccessToken); err != nil {
		t.Errorf("record missing from durable store: %v", err)
	}
}

func TestGet_DurableFallbackWithoutWriteBack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testutil.NewRecord(f.clock.Now())

	if err := f.store.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := f.store.Evict(ctx, rec.AccessToken); err != nil {
		t.Fatalf("Evict() error = %v", err)
	}

	got, err := f.store.Get(ctx, rec.AccessToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	testutil.AssertRecordEqual(t, got, rec)
	if n := f.durable.finds.Load(); n != 1 {
		t.Errorf("durable reads = %d, want 1", n)
	}
	if _, err := f.cache.Get(ctx, rec.AccessToken); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("durable hit was written back to the cache: %v", err)
	}
}

func TestGet_CacheExpiresAtNextDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	rec := testutil.NewRecord(f.clock.Now())

	if err := f.store.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	f.clock.Advance(12 * time.Hour)
	if _, err := f.store.Get(ctx, rec.AccessToken); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := f.durable.finds.Load(); n != 1 {
		t.Errorf("durable reads after day boundary = %d, want 1", n)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.store.Get(context.Background(), "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRefreshTokenEncryptedAtRest(t *testing.T) {
	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	f := newFixture(t, enc)
	ctx := context.Background()
	rec := testutil.NewRecord(f.clock.Now())

	if err := f.store.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	raw, err := f.durable.RecordStore.FindLatestByAccessToken(ctx, rec.AccessToken)
	if err != nil {
		t.Fatalf("durable read error = %v", err)
	}
	if raw.RefreshToken == rec.RefreshToken {
		t.Error("refresh token stored in plaintext")
	}

	cached, _ := f.cache.Get(ctx, rec.AccessToken)
	if len(cached) == 0 || strings.Contains(string(cached), rec.RefreshToken) {
		t.Error("refresh token cached in plaintext")
	}

	got, err := f.store.Get(ctx, rec.AccessToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RefreshToken != rec.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", got.RefreshToken, rec.RefreshToken)
	}

	_ = f.store.Evict(ctx, rec.AccessToken)
	got, err = f.store.Get(ctx, rec.AccessToken)
	if err != nil {
		t.Fatalf("Get() from durable error = %v", err)
	}
	if got.RefreshToken != rec.RefreshToken {
		t.Errorf("durable RefreshToken = %q, want %q", got.RefreshToken, rec.RefreshToken)
	}
}
