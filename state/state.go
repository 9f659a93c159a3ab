// Package state issues and consumes the CSRF state value carried through the
// provider's authorization redirect.
//
// Each issued state is a random plaintext sealed under its own random key.
// The sealed value is what travels to the provider and back. The plaintext
// and key are kept in a cache under the sealed value until the next calendar
// day boundary, and are removed on the first lookup whatever its outcome, so
// a state is accepted at most once.
package state

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/Jnavarr56/authentication-api/cache"
	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/security"
)

// ErrUnrecognized is returned by ConsumeState when the state was never
// issued, was already consumed, has expired or does not authenticate. The
// cases are deliberately indistinguishable.
var ErrUnrecognized = errors.New("unrecognized state")

// Entry is what the cache holds for one issued state.
type Entry struct {
	PlainState string `json:"plain_state"`
	Key        string `json:"key"`
}

// Config configures a Manager.
type Config struct {
	// Cache holds issued states. Required.
	Cache cache.Cache

	// Location decides where "the next day" begins for state expiry.
	// Default: UTC.
	Location *time.Location

	// Now replaces time.Now.
	Now func() time.Time

	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation
}

// Manager issues and consumes CSRF states.
type Manager struct {
	cache  cache.Cache
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// NewManager creates a state manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("state cache is required")
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
	return &Manager{
		cache:  cfg.Cache,
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger,
		inst:   cfg.Instrumentation,
	}, nil
}

// IssueState creates, stores and returns a new sealed state.
func (m *Manager) IssueState(ctx context.Context) (string, error) {
	ctx, span := m.inst.Tracer("state").Start(ctx, "state.issue")
	defer span.End()

	plain := oauth2.GenerateVerifier()
	key := oauth2.GenerateVerifier()

	sealed, err := security.SealWithKey(plain, key)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to seal state: %w", err)
	}

	payload, err := json.Marshal(Entry{PlainState: plain, Key: key})
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to encode state entry: %w", err)
	}

	ttl := security.UntilNextDay(m.now(), m.loc)
	if err := m.cache.Set(ctx, sealed, payload, ttl); err != nil {
		instrumentation.RecordError(span, err)
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	m.inst.Metrics().RecordStateIssued(ctx)
	instrumentation.SetSpanSuccess(span)
	m.logger.Debug("Issued state",
		"state_prefix", util.TokenPrefix(sealed),
		"ttl", ttl)
	return sealed, nil
}

// ConsumeState accepts sealed exactly once. The stored entry is removed
// before it is checked, so a failed check also burns the state.
//
// A cache outage is returned wrapped rather than as ErrUnrecognized, and the
// state is never accepted in that case.
func (m *Manager) ConsumeState(ctx context.Context, sealed string) (err error) {
	ctx, span := m.inst.Tracer("state").Start(ctx, "state.consume")
	defer span.End()

	result := "accepted"
	defer func() {
		switch {
		case errors.Is(err, ErrUnrecognized):
			result = "unrecognized"
		case err != nil:
			result = "error"
		}
		span.SetAttributes(attribute.String(instrumentation.AttrResult, result))
		m.inst.Metrics().RecordStateConsumed(ctx, result)
	}()

	if sealed == "" {
		return ErrUnrecognized
	}

	payload, err := m.cache.Take(ctx, sealed)
	if errors.Is(err, cache.ErrMiss) {
		return ErrUnrecognized
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		return fmt.Errorf("failed to load state: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		m.logger.Warn("Discarding unreadable state entry", "error", err)
		return ErrUnrecognized
	}

	plain, err := security.OpenWithKey(sealed, entry.Key)
	if err != nil {
		return ErrUnrecognized
	}
	if subtle.ConstantTimeCompare([]byte(plain), []byte(entry.PlainState)) != 1 {
		return ErrUnrecognized
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}
