package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Jnavarr56/authentication-api/credstore"
	"github.com/Jnavarr56/authentication-api/directory"
	"github.com/Jnavarr56/authentication-api/instrumentation"
	"github.com/Jnavarr56/authentication-api/internal/util"
	"github.com/Jnavarr56/authentication-api/providers"
	"github.com/Jnavarr56/authentication-api/refresh"
	"github.com/Jnavarr56/authentication-api/security"
	"github.com/Jnavarr56/authentication-api/state"
	"github.com/Jnavarr56/authentication-api/storage"
	"github.com/Jnavarr56/authentication-api/tokencodec"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	// Provider is the OAuth provider users authorize with. Required.
	Provider providers.Provider

	// States issues and consumes CSRF states. Required.
	States *state.Manager

	// Credentials persists credential records. Required.
	Credentials *credstore.Store

	// Refresher keeps presented credentials fresh. Required.
	Refresher *refresh.Orchestrator

	// Directory resolves provider identities to users. Optional: without
	// it records are persisted with an empty UserID.
	Directory directory.Client

	Auditor         *security.Auditor
	Logger          *slog.Logger
	Instrumentation *instrumentation.Instrumentation

	// Now replaces time.Now.
	Now func() time.Time
}

// Service runs the authorization flows on top of the core components.
type Service struct {
	provider    providers.Provider
	states      *state.Manager
	credentials *credstore.Store
	refresher   *refresh.Orchestrator
	directory   directory.Client
	auditor     *security.Auditor
	logger      *slog.Logger
	inst        *instrumentation.Instrumentation
	now         func() time.Time
}

// Session is the outcome of a completed authorization.
type Session struct {
	Record   *storage.Record
	Identity *providers.Identity

	// User is nil when no directory is configured.
	User *directory.User

	// NewUser is true when the directory account was created by this
	// authorization.
	NewUser bool

	// TransportToken is the client form of Record.AccessToken.
	TransportToken string
}

// NewService validates cfg and creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Provider == nil:
		return nil, fmt.Errorf("provider is required")
	case cfg.States == nil:
		return nil, fmt.Errorf("state manager is required")
	case cfg.Credentials == nil:
		return nil, fmt.Errorf("credential store is required")
	case cfg.Refresher == nil:
		return nil, fmt.Errorf("refresh orchestrator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		provider:    cfg.Provider,
		states:      cfg.States,
		credentials: cfg.Credentials,
		refresher:   cfg.Refresher,
		directory:   cfg.Directory,
		auditor:     cfg.Auditor,
		logger:      cfg.Logger,
		inst:        cfg.Instrumentation,
		now:         cfg.Now,
	}, nil
}

// ProviderName returns the name of the configured provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// BeginAuthorization issues a state and returns the provider URL carrying it.
func (s *Service) BeginAuthorization(ctx context.Context, clientIP string) (string, error) {
	ctx, span := s.inst.Tracer("authapi").Start(ctx, "authapi.begin_authorization")
	defer span.End()

	st, err := s.states.IssueState(ctx)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Error("Failed to issue state", "error", err)
		return "", err
	}

	s.auditor.LogAuthorizationStarted(clientIP, s.provider.Name())
	instrumentation.SetSpanSuccess(span)
	return s.provider.AuthorizationURL(st), nil
}

// CompleteAuthorization handles the provider callback. The state is consumed
// first and nothing else happens when it is rejected. The record is persisted
// only after the directory has resolved the user.
func (s *Service) CompleteAuthorization(ctx context.Context, stateValue, code, clientIP string) (*Session, error) {
	ctx, span := s.inst.Tracer("authapi").Start(ctx, "authapi.complete_authorization")
	defer span.End()

	if err := s.states.ConsumeState(ctx, stateValue); err != nil {
		instrumentation.RecordError(span, err)
		if errors.Is(err, state.ErrUnrecognized) {
			s.auditor.LogStateRejected(clientIP, "unrecognized")
		} else {
			s.logger.Error("State backend failed during callback", "error", err)
		}
		return nil, err
	}

	tokens, err := s.provider.ExchangeCode(ctx, code)
	if err == nil && (tokens == nil || tokens.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Warn("Authorization code exchange failed",
			"provider", s.provider.Name(),
			"error", err)
		s.auditor.LogProviderExchangeFailed(clientIP, "code_exchange")
		return nil, fmt.Errorf("%w: %w", ErrCodeExchangeFailed, err)
	}

	identity, err := s.provider.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Warn("Provider identity lookup failed",
			"provider", s.provider.Name(),
			"token_prefix", util.TokenPrefix(tokens.AccessToken),
			"error", err)
		s.auditor.LogProviderExchangeFailed(clientIP, "identity")
		return nil, fmt.Errorf("%w: %w", ErrIdentityFailed, err)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrProviderID, identity.ID))

	session := &Session{Identity: identity}
	if s.directory != nil {
		user, created, err := directory.FindOrCreate(ctx, s.directory, &directory.NewUser{
			SpotifyID:   identity.ID,
			Email:       identity.Email,
			DisplayName: identity.DisplayName,
			Country:     identity.Country,
		})
		if err != nil {
			instrumentation.RecordError(span, err)
			s.logger.Error("User directory failed", "error", err)
			s.auditor.LogDirectoryLookupFailed(identity.ID, clientIP, "find_or_create")
			return nil, fmt.Errorf("%w: %w", ErrDirectoryFailed, err)
		}
		if created {
			s.logger.Info("Created directory user", "user_id", user.ID)
		}
		session.User = user
		session.NewUser = created
	}

	now := s.now()
	rec := &storage.Record{
		ID:           uuid.New(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    security.ExpiresAt(now, tokens.ExpiresIn),
		ProviderID:   identity.ID,
		CreatedAt:    now.UTC(),
	}
	if session.User != nil {
		rec.UserID = session.User.ID
	}

	if err := s.credentials.Put(ctx, rec); err != nil {
		instrumentation.RecordError(span, err)
		s.logger.Error("Failed to persist credential", "error", err)
		return nil, err
	}

	s.auditor.LogCredentialIssued(rec.UserID, rec.ProviderID, clientIP)
	span.SetAttributes(attribute.String(instrumentation.AttrUserID, rec.UserID))
	instrumentation.SetSpanSuccess(span)

	session.Record = rec
	session.TransportToken = tokencodec.Encode(rec.AccessToken)
	return session, nil
}

// Authorize resolves a presented transport token to a fresh credential,
// refreshing it at the provider when it has expired.
func (s *Service) Authorize(ctx context.Context, transportToken, clientIP string) (*refresh.Result, error) {
	ctx, span := s.inst.Tracer("authapi").Start(ctx, "authapi.authorize")
	defer span.End()

	accessToken, err := tokencodec.Decode(transportToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		s.auditor.LogMalformedToken(clientIP)
		return nil, err
	}

	res, err := s.refresher.EnsureFresh(ctx, accessToken)
	if err != nil {
		instrumentation.RecordError(span, err)
		switch {
		case errors.Is(err, credstore.ErrNotFound):
			s.auditor.LogAuthFailure("", clientIP, "unknown_token")
		case errors.Is(err, refresh.ErrProviderRejected):
			s.auditor.LogAuthFailure("", clientIP, "refresh_rejected")
		case errors.Is(err, refresh.ErrSuperseded):
			s.auditor.LogAuthFailure("", clientIP, "superseded_token")
		}
		return nil, err
	}

	instrumentation.SetSpanSuccess(span)
	return res, nil
}
