// Package memory provides an in-memory, append-only credential record store.
//
// It keeps every record for the life of the process and indexes them by
// access token. It is suitable for development, tests and single-instance
// deployments that accept losing history on restart.
//
// Example usage:
//
//	store := memory.New()
//	store.SetInstrumentation(inst)
//	creds, _ := credstore.New(credstore.Config{Durable: store, Cache: cache})
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/storage"
)

const backendName = "memory"

// Store is an in-memory implementation of storage.RecordStore.
type Store struct {
	mu sync.RWMutex

	// records holds every record in insertion order.
	records []*storage.Record

	// byAccessToken indexes records by access token. Access tokens are
	// unique, so the entry is also the latest record for that token.
	byAccessToken map[string]*storage.Record

	// replacedBy maps a record ID to the ID of the record that rotated it
	// away.
	replacedBy map[uuid.UUID]uuid.UUID

	recordsCount atomic.Int64

	instrumentation *instrumentation.Instrumentation
	logger          *slog.Logger
}

var _ storage.RecordStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byAccessToken: make(map[string]*storage.Record),
		replacedBy:    make(map[uuid.UUID]uuid.UUID),
		logger:        slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store and
// registers the record count gauge.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.recordsCount.Store(int64(len(s.records)))
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallback(backendName, func() int64 {
		return s.recordsCount.Load()
	})
	if err != nil {
		s.logger.Warn("Failed to register storage size callback", "error", err)
	}
}

// CreateRecord appends rec. The store keeps its own copy.
func (s *Store) CreateRecord(ctx context.Context, rec *storage.Record) (err error) {
	_, op := s.instrumentation.StartStorageOp(ctx, backendName, "create_record")
	defer func() { op.End(err) }()

	if err := storage.Validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAccessToken[rec.AccessToken]; exists {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateAccessToken,
			util.TokenPrefix(rec.AccessToken))
	}
	if rec.ReplacesID != uuid.Nil {
		if _, replaced := s.replacedBy[rec.ReplacesID]; replaced {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyReplaced, rec.ReplacesID)
		}
	}

	stored := rec.Clone()
	s.records = append(s.records, stored)
	s.byAccessToken[stored.AccessToken] = stored
	if stored.ReplacesID != uuid.Nil {
		s.replacedBy[stored.ReplacesID] = stored.ID
	}
	s.recordsCount.Store(int64(len(s.records)))

	s.logger.Debug("Created credential record",
		"record_id", stored.ID,
		"access_token_prefix", util.TokenPrefix(stored.AccessToken),
		"user_id", stored.UserID)
	return nil
}

// FindLatestByAccessToken returns a copy of the newest record carrying
// accessToken.
func (s *Store) FindLatestByAccessToken(ctx context.Context, accessToken string) (rec *storage.Record, err error) {
	_, op := s.instrumentation.StartStorageOp(ctx, backendName, "find_latest_by_access_token")
	defer func() {
		if err == storage.ErrRecordNotFound {
			op.End(nil)
			return
		}
		op.End(err)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.byAccessToken[accessToken]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	return stored.Clone(), nil
}

// IsReplaced reports whether a rotation has recorded id as its predecessor.
func (s *Store) IsReplaced(ctx context.Context, id uuid.UUID) (replaced bool, err error) {
	_, op := s.instrumentation.StartStorageOp(ctx, backendName, "is_replaced")
	defer func() { op.End(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, replaced = s.replacedBy[id]
	return replaced, nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op. Records are kept so a closed store can still be read in
// tests.
func (s *Store) Close() error {
	return nil
}
