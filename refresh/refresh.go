// Package refresh keeps credentials usable by rotating expired access tokens
// through the provider.
//
// A refresh walks Fresh or Expired, then Refreshing, and ends in Rotated or
// RefreshFailed. There are no automatic retries. Concurrent calls for the
// same stale access token inside one process share a single provider call.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/providers"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/storage"
	"github.com/Jnavarr56/authentication-api/tokencodec"
)

var (
	// ErrProviderRejected is returned when the provider refuses the refresh
	// or answers without a usable access token. The user has to authorize
	// again. Nothing was persisted.
	ErrProviderRejected = errors.New("provider rejected refresh")

	// ErrStoreFailed is returned when the rotated credential could not be
	// persisted.
	ErrStoreFailed = errors.New("failed to store refreshed credential")

	// ErrSuperseded is returned for an access token that an earlier refresh
	// already rotated away. The client must use the newer token or authorize
	// again. Nothing was persisted and the provider was not called.
	ErrSuperseded = errors.New("credential already rotated")
)

// State is a step of the refresh lifecycle.
type State int

const (
	Fresh State = iota
	Expired
	Refreshing
	Rotated
	RefreshFailed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	case Rotated:
		return "rotated"
	case RefreshFailed:
		return "refresh_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Records is the part of the credential store the orchestrator needs.
// *credstore.Store satisfies it.
type Records interface {
	Get(ctx context.Context, accessToken string) (*storage.Record, error)
	Put(ctx context.Context, rec *storage.Record) error
	Evict(ctx context.Context, accessToken string) error
	Superseded(ctx context.Context, rec *storage.Record) (bool, error)
}

// Config configures an Orchestrator.
type Config struct {
	Records  Records            // Required
	Provider providers.Provider // Required

	// Leeway treats a credential as expired this long before ExpiresAt.
	// Default: security.DefaultRefreshLeeway.
	Leeway time.Duration

	// Now replaces time.Now.
	Now func() time.Time

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

// Orchestrator refreshes expired credentials.
type Orchestrator struct {
	records  Records
	provider providers.Provider
	leeway   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
	group    singleflight.Group
}

// Result describes a credential that is fresh at return time.
type Result struct {
	Record *storage.Record

	// Rotated is true when Record replaced the credential that was asked for.
	Rotated bool

	// TransportToken is the client form of Record.AccessToken.
	TransportToken string
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Records == nil {
		return nil, fmt.Errorf("credential records are required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Leeway < 0 {
		return nil, fmt.Errorf("leeway must not be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		records:  cfg.Records,
		provider: cfg.Provider,
		leeway:   cfg.Leeway,
		now:      cfg.Now,
		logger:   cfg.Logger,
		auditor:  cfg.Auditor,
		inst:     cfg.Instrumentation,
	}, nil
}

// EnsureFresh returns the credential for accessToken, refreshing it at the
// provider first if it has expired. Lookup errors from Records are returned
// wrapped, so callers can test for credstore.ErrNotFound.
func (o *Orchestrator) EnsureFresh(ctx context.Context, accessToken string) (*Result, error) {
	ctx, span := o.inst.Tracer("refresh").Start(ctx, "refresh.ensure_fresh")
	defer span.End()

	rec, err := o.records.Get(ctx, accessToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	if !security.IsExpired(o.now(), rec.ExpiresAt, o.leeway) {
		o.finish(ctx, span, Fresh)
		return &Result{Record: rec, TransportToken: tokencodec.Encode(rec.AccessToken)}, nil
	}

	o.logger.Debug("Credential expired",
		"state", Expired,
		"access_token_prefix", util.TokenPrefix(accessToken),
		"expires_at", rec.ExpiresAt)

	// The shared call must outlive any one caller's cancellation.
	v, err, shared := o.group.Do(accessToken, func() (any, error) {
		return o.rotate(context.WithoutCancel(ctx), rec)
	})
	span.SetAttributes(attribute.Bool("refresh.shared", shared))
	if err != nil {
		instrumentation.RecordError(span, err)
		o.finish(ctx, span, RefreshFailed)
		return nil, err
	}

	rotated := v.(*storage.Record).Clone()
	o.finish(ctx, span, Rotated)
	return &Result{
		Record:         rotated,
		Rotated:        true,
		TransportToken: tokencodec.Encode(rotated.AccessToken),
	}, nil
}

// rotate runs the Refreshing step for the expired record old.
func (o *Orchestrator) rotate(ctx context.Context, old *storage.Record) (*storage.Record, error) {
	logger := o.logger.With(
		"user_id", old.UserID,
		"access_token_prefix", util.TokenPrefix(old.AccessToken))
	logger.Debug("Refreshing credential", "state", Refreshing)

	// The expired token must not be served from the cache again, whatever
	// the outcome.
	if err := o.records.Evict(ctx, old.AccessToken); err != nil {
		logger.Warn("Failed to evict expired credential from cache", "error", err)
	}

	superseded, err := o.records.Superseded(ctx, old)
	if err != nil {
		logger.Error("Failed to check credential rotation", "error", err)
		return nil, err
	}
	if superseded {
		logger.Warn("Rotated-away access token presented again", "record_id", old.ID)
		o.auditor.LogRefreshRejected(old.UserID, old.ProviderID, "superseded")
		return nil, ErrSuperseded
	}

	if old.RefreshToken == "" {
		return nil, o.reject(logger, old, "no refresh token on record", nil)
	}

	resp, err := o.provider.RefreshToken(ctx, old.RefreshToken)
	if err != nil {
		return nil, o.reject(logger, old, "provider error", err)
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, o.reject(logger, old, "empty access token", nil)
	}
	if resp.AccessToken == old.AccessToken {
		return nil, o.reject(logger, old, "access token unchanged", nil)
	}

	now := o.now().UTC()
	next := &storage.Record{
		ID:           uuid.New(),
		AccessToken:  resp.AccessToken,
		RefreshToken: old.RefreshToken,
		ExpiresAt:    security.ExpiresAt(now, resp.ExpiresIn),
		ProviderID:   old.ProviderID,
		UserID:       old.UserID,
		CreatedAt:    now,
		ReplacesID:   old.ID,
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}

	if err := o.records.Put(ctx, next); err != nil {
		if errors.Is(err, storage.ErrAlreadyReplaced) {
			logger.Warn("Credential was rotated concurrently elsewhere", "record_id", old.ID)
			o.auditor.LogRefreshRejected(old.UserID, old.ProviderID, "superseded")
			return nil, ErrSuperseded
		}
		logger.Error("Refreshed credential could not be stored, user must re-authorize",
			"record_id", next.ID,
			"error", err)
		o.auditor.LogRefreshStoreFailed(old.UserID, old.ProviderID)
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	refreshRotated := next.RefreshToken != old.RefreshToken
	o.auditor.LogCredentialRefreshed(old.UserID, old.ProviderID, refreshRotated)
	logger.Info("Refreshed credential",
		"record_id", next.ID,
		"new_access_token_prefix", util.TokenPrefix(next.AccessToken),
		"refresh_token_rotated", refreshRotated)
	return next, nil
}

func (o *Orchestrator) reject(logger *slog.Logger, old *storage.Record, reason string, cause error) error {
	logger.Warn("Provider rejected refresh", "reason", reason, "error", cause)
	o.auditor.LogRefreshRejected(old.UserID, old.ProviderID, reason)
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", ErrProviderRejected, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrProviderRejected, reason)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, state State) {
	span.SetAttributes(attribute.String(instrumentation.AttrRefreshState, state.String()))
	if state != RefreshFailed {
		instrumentation.SetSpanSuccess(span)
	}
	o.inst.Metrics().RecordRefreshOutcome(ctx, state.String())
}
