// Package credstore keeps credential records in two tiers: a volatile cache
// keyed by access token in front of an append-only durable store.
//
// Writes go to the durable store first and reach the cache only once the
// durable write succeeded. Reads try the cache and fall back to the durable
// store without writing the result back.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Jnavarr56/authentication-api/cache"
	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/storage"
)

var (
	// ErrPersistFailed is returned by Put when the durable write fails. The
	// cache is left untouched in that case.
	ErrPersistFailed = errors.New("failed to persist credential record")

	// ErrNotFound is returned by Get when neither tier holds the access token.
	ErrNotFound = errors.New("credential record not found")
)

// Config configures a Store.
type Config struct {
	// Durable is the record of truth. Required.
	Durable storage.RecordStore

	// Cache is the fast tier, keyed by access token. Required.
	Cache cache.Cache

	// Encryptor protects refresh tokens in both tiers. Optional: a nil or
	// disabled encryptor stores them as-is.
	Encryptor *security.Encryptor

	// Location decides where "the next day" begins for cache expiry.
	// Default: UTC.
	Location *time.Location

	// Now replaces time.Now.
	Now func() time.Time

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Store is the two-tier credential record store.
type Store struct {
	durable   storage.RecordStore
	cache     cache.Cache
	encryptor *security.Encryptor
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
}

// New creates a credential store.
func New(cfg Config) (*Store, error) {
	if cfg.Durable == nil {
		return nil, fmt.Errorf("durable record store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("token cache is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Encryptor.IsEnabled() {
		cfg.Logger.Info("Refresh token encryption at rest enabled")
	}
	return &Store{
		durable:   cfg.Durable,
		cache:     cfg.Cache,
		encryptor: cfg.Encryptor,
		loc:       cfg.Location,
		now:       cfg.Now,
		logger:    cfg.Logger,
		inst:      cfg.Instrumentation,
	}, nil
}

// Put persists rec durably and then caches it under its access token until
// the next day boundary. A cache failure after the durable write is logged
// and not returned.
func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	ctx, span := s.inst.Tracer("credstore").Start(ctx, "credstore.put")
	defer span.End()

	if err := storage.Validate(rec); err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	sealed, err := s.sealRecord(rec)
	if err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	if err := s.durable.CreateRecord(ctx, sealed); err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Error("Durable write failed",
			"record_id", rec.ID,
			"access_token_prefix", util.TokenPrefix(rec.AccessToken),
			"error", err)
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	s.inst.Metrics().RecordCredentialStored(ctx)

	payload, err := json.Marshal(sealed)
	if err == nil {
		err = s.cache.Set(ctx, rec.AccessToken, payload, security.UntilNextDay(s.now(), s.loc))
	}
	if err != nil {
		s.logger.Warn("Failed to cache credential record",
			"record_id", rec.ID,
			"access_token_prefix", util.TokenPrefix(rec.AccessToken),
			"error", err)
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}

// Get returns the record for accessToken from the cache, or else the newest
// durable record holding it.
func (s *Store) Get(ctx context.Context, accessToken string) (*storage.Record, error) {
	ctx, span := s.inst.Tracer("credstore").Start(ctx, "credstore.get")
	defer span.End()

	rec, err := s.fromCache(ctx, accessToken)
	hit := err == nil
	span.SetAttributes(attribute.Bool(instrumentation.AttrCacheHit, hit))
	s.inst.Metrics().RecordTokenCacheLookup(ctx, hit)
	if hit {
		instrumentation.SetSpanSuccess(span)
		return rec, nil
	}

	stored, err := s.durable.FindLatestByAccessToken(ctx, accessToken)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to read credential record: %w", err)
	}

	rec, err = s.openRecord(stored)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return rec, nil
}

// Superseded reports whether rec has been rotated away by a later record.
// Only the durable store is consulted.
func (s *Store) Superseded(ctx context.Context, rec *storage.Record) (bool, error) {
	replaced, err := s.durable.IsReplaced(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check credential rotation: %w", err)
	}
	return replaced, nil
}

// Evict drops accessToken from the cache. The durable store is not touched.
func (s *Store) Evict(ctx context.Context, accessToken string) error {
	if err := s.cache.Delete(ctx, accessToken); err != nil {
		return fmt.Errorf("failed to evict credential record: %w", err)
	}
	return nil
}

// fromCache returns the cached record. Any failure, including an unreadable
// entry, is treated as a miss.
func (s *Store) fromCache(ctx context.Context, accessToken string) (*storage.Record, error) {
	payload, err := s.cache.Get(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("Token cache read failed, falling back to durable store", "error", err)
		}
		return nil, err
	}

	var sealed storage.Record
	if err := json.Unmarshal(payload, &sealed); err != nil {
		s.logger.Warn("Discarding unreadable cached credential", "error", err)
		return nil, err
	}
	if sealed.AccessToken != accessToken {
		return nil, cache.ErrMiss
	}
	return s.openRecord(&sealed)
}

func (s *Store) sealRecord(rec *storage.Record) (*storage.Record, error) {
	out := rec.Clone()
	if out.RefreshToken == "" || !s.encryptor.IsEnabled() {
		return out, nil
	}
	enc, err := s.encryptor.Encrypt(out.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	out.RefreshToken = enc
	return out, nil
}

func (s *Store) openRecord(rec *storage.Record) (*storage.Record, error) {
	out := rec.Clone()
	if out.RefreshToken == "" || !s.encryptor.IsEnabled() {
		return out, nil
	}
	dec, err := s.encryptor.Decrypt(out.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	out.RefreshToken = dec
	return out, nil
}
