// Package sqlite provides a SQLite-backed credential record store.
//
// It uses the pure-Go modernc.org/sqlite driver, so no cgo toolchain is
// needed. The schema is embedded and applied when the store is opened.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/storage"
	"github.com/Jnavarr56/authentication-api/storage/sqlite/migrations"
)

const backendName = "sqlite"

// Store persists credential records in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

var _ storage.RecordStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstrumentation traces and measures every store call.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Store) { s.inst = inst }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path, creating it if needed, and applies the
// embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info("Opened SQLite credential store", "path", filepath.Clean(path))
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateRecord inserts rec.
func (s *Store) CreateRecord(ctx context.Context, rec *storage.Record) (err error) {
	ctx, op := s.inst.StartStorageOp(ctx, backendName, "create_record")
	defer func() { op.End(err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.Validate(rec); err != nil {
		return err
	}

	var expiresAt sql.NullInt64
	if !rec.ExpiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: toMillis(rec.ExpiresAt), Valid: true}
	}

	var replacesID sql.NullString
	if rec.ReplacesID != uuid.Nil {
		replacesID = sql.NullString{String: rec.ReplacesID.String(), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO credential_records (
		   id,
		   access_token,
		   refresh_token,
		   expires_at,
		   provider_id,
		   user_id,
		   created_at,
		   replaces_id
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.AccessToken,
		rec.RefreshToken,
		expiresAt,
		rec.ProviderID,
		rec.UserID,
		toMillis(rec.CreatedAt),
		replacesID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "replaces_id") {
				return fmt.Errorf("%w: %s", storage.ErrAlreadyReplaced, rec.ReplacesID)
			}
			return fmt.Errorf("%w: %s", storage.ErrDuplicateAccessToken, util.TokenPrefix(rec.AccessToken))
		}
		return fmt.Errorf("create credential record: %w", err)
	}
	return nil
}

// FindLatestByAccessToken returns the newest record holding accessToken.
func (s *Store) FindLatestByAccessToken(ctx context.Context, accessToken string) (rec *storage.Record, err error) {
	ctx, op := s.inst.StartStorageOp(ctx, backendName, "find_latest_by_access_token")
	defer func() {
		if errors.Is(err, storage.ErrRecordNotFound) {
			op.End(nil)
			return
		}
		op.End(err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		id         string
		expiresAt  sql.NullInt64
		createdAt  int64
		replacesID sql.NullString
		out        storage.Record
	)
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT id, access_token, refresh_token, expires_at, provider_id, user_id, created_at, replaces_id
		   FROM credential_records
		  WHERE access_token = ?
		  ORDER BY created_at DESC
		  LIMIT 1`,
		accessToken,
	).Scan(&id, &out.AccessToken, &out.RefreshToken, &expiresAt, &out.ProviderID, &out.UserID, &createdAt, &replacesID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find credential record: %w", err)
	}

	out.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse credential record id: %w", err)
	}
	if expiresAt.Valid {
		out.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	out.CreatedAt = fromMillis(createdAt)
	if replacesID.Valid {
		if out.ReplacesID, err = uuid.Parse(replacesID.String); err != nil {
			return nil, fmt.Errorf("parse replaced record id: %w", err)
		}
	}
	return &out, nil
}

// IsReplaced reports whether a stored record names id as its predecessor.
func (s *Store) IsReplaced(ctx context.Context, id uuid.UUID) (replaced bool, err error) {
	ctx, op := s.inst.StartStorageOp(ctx, backendName, "is_replaced")
	defer func() { op.End(err) }()

	var found int
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM credential_records WHERE replaces_id = ? LIMIT 1`,
		id.String(),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check credential record replacement: %w", err)
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
