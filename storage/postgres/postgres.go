// Package postgres provides a PostgreSQL-backed credential record store using
// lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/storage"
)

const (
	backendName = "postgres"

	// uniqueViolation is the SQLSTATE for a unique index conflict.
	uniqueViolation pq.ErrorCode = "23505"

	replacesIndex = "idx_credential_records_replaces_id"
)

// Config configures the connection pool.
type Config struct {
	// DSN is a lib/pq connection string or postgres:// URL. Required.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Store persists credential records in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

var _ storage.RecordStore = (*Store)(nil)

// Open connects, verifies the connection and creates the schema if missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger, inst: cfg.Instrumentation}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info("Connected to PostgreSQL credential store")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS credential_records (
		id UUID PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ,
		provider_id VARCHAR(255) NOT NULL DEFAULT '',
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credential_records_access_token
		ON credential_records (access_token);
	CREATE INDEX IF NOT EXISTS idx_credential_records_user_created
		ON credential_records (user_id, created_at);

	ALTER TABLE credential_records ADD COLUMN IF NOT EXISTS replaces_id UUID;
	CREATE UNIQUE INDEX IF NOT EXISTS `+replacesIndex+`
		ON credential_records (replaces_id);
	`)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRecord inserts rec.
func (s *Store) CreateRecord(ctx context.Context, rec *storage.Record) (err error) {
	ctx, op := s.inst.StartStorageOp(ctx, backendName, "create_record")
	defer func() { op.End(err) }()

	if err := storage.Validate(rec); err != nil {
		return err
	}

	var expiresAt sql.NullTime
	if !rec.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	var replacesID sql.NullString
	if rec.ReplacesID != uuid.Nil {
		replacesID = sql.NullString{String: rec.ReplacesID.String(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credential_records
			(id, access_token, refresh_token, expires_at, provider_id, user_id, created_at, replaces_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID.String(),
		rec.AccessToken,
		rec.RefreshToken,
		expiresAt,
		rec.ProviderID,
		rec.UserID,
		rec.CreatedAt.UTC(),
		replacesID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == replacesIndex {
				return fmt.Errorf("%w: %s", storage.ErrAlreadyReplaced, rec.ReplacesID)
			}
			return fmt.Errorf("%w: %s", storage.ErrDuplicateAccessToken, util.TokenPrefix(rec.AccessToken))
		}
		return fmt.Errorf("failed to create credential record: %w", err)
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

	var (
		id         string
		expiresAt  sql.NullTime
		replacesID sql.NullString
		out        storage.Record
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, access_token, refresh_token, expires_at, provider_id, user_id, created_at, replaces_id
		FROM credential_records
		WHERE access_token = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, accessToken).Scan(&id, &out.AccessToken, &out.RefreshToken, &expiresAt, &out.ProviderID, &out.UserID, &out.CreatedAt, &replacesID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential record: %w", err)
	}

	if out.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse credential record id: %w", err)
	}
	if expiresAt.Valid {
		out.ExpiresAt = expiresAt.Time.UTC()
	}
	out.CreatedAt = out.CreatedAt.UTC()
	if replacesID.Valid {
		if out.ReplacesID, err = uuid.Parse(replacesID.String); err != nil {
			return nil, fmt.Errorf("failed to parse replaced record id: %w", err)
		}
	}
	return &out, nil
}

// IsReplaced reports whether a stored record names id as its predecessor.
func (s *Store) IsReplaced(ctx context.Context, id uuid.UUID) (replaced bool, err error) {
	ctx, op := s.inst.StartStorageOp(ctx, backendName, "is_replaced")
	defer func() { op.End(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM credential_records WHERE replaces_id = $1)`,
		id.String(),
	).Scan(&replaced)
	if err != nil {
		return false, fmt.Errorf("failed to check credential record replacement: %w", err)
	}
	return replaced, nil
}
