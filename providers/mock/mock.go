// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Jnavarr56/authentication-api/providers"
)

// Provider is a mock implementation of providers.Provider. Each method calls
// the matching Func field and counts the call.
type Provider struct {
	NameFunc             func() string
	AuthorizationURLFunc func(state string) string
	ExchangeCodeFunc     func(ctx context.Context, code string) (*providers.TokenResponse, error)
	FetchIdentityFunc    func(ctx context.Context, accessToken string) (*providers.Identity, error)
	RefreshTokenFunc     func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	mu sync.RWMutex
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider creates a mock provider with working defaults: codes exchange
// for AT1/RT1, refreshes return AT2 without a new refresh token, and every
// access token belongs to "mock-user".
func NewProvider() *Provider {
	return &Provider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string) string {
			return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
		},
		ExchangeCodeFunc: func(ctx context.Context, code string) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken:  "AT1",
				RefreshToken: "RT1",
				TokenType:    "Bearer",
				ExpiresIn:    time.Hour,
			}, nil
		},
		FetchIdentityFunc: func(ctx context.Context, accessToken string) (*providers.Identity, error) {
			return &providers.Identity{
				ID:          "mock-user",
				DisplayName: "Mock User",
				Email:       "mock@example.com",
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken: "AT2",
				TokenType:   "Bearer",
				ExpiresIn:   time.Hour,
			}, nil
		},
	}
}

// count records a call and returns fn. The lock is released before fn runs
// so a Func may call back into the mock.
func count[F any](m *Provider, method string, fn *F) F {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CallCounts == nil {
		m.CallCounts = make(map[string]int)
	}
	m.CallCounts[method]++
	return *fn
}

// Name returns the provider name
func (m *Provider) Name() string {
	fn := count(m, "Name", &m.NameFunc)
	if fn == nil {
		return "mock"
	}
	return fn()
}

// AuthorizationURL returns the authorize URL for state.
func (m *Provider) AuthorizationURL(state string) string {
	fn := count(m, "AuthorizationURL", &m.AuthorizationURLFunc)
	if fn == nil {
		return "https://mock.example.com/authorize?state=" + url.QueryEscape(state)
	}
	return fn(state)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *Provider) ExchangeCode(ctx context.Context, code string) (*providers.TokenResponse, error) {
	fn := count(m, "ExchangeCode", &m.ExchangeCodeFunc)
	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, code)
}

// FetchIdentity returns the account behind accessToken.
func (m *Provider) FetchIdentity(ctx context.Context, accessToken string) (*providers.Identity, error) {
	fn := count(m, "FetchIdentity", &m.FetchIdentityFunc)
	if fn == nil {
		return nil, fmt.Errorf("FetchIdentityFunc not configured")
	}
	return fn(ctx, accessToken)
}

// RefreshToken refreshes an expired token using a refresh token
func (m *Provider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	fn := count(m, "RefreshToken", &m.RefreshTokenFunc)
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, refreshToken)
}

// ResetCallCounts resets all call counters
func (m *Provider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *Provider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
