package providers

import (
	"context"
	"time"
)

// Provider is an OAuth 2.0 authorization-code provider.
type Provider interface {
	// Name returns the provider name (e.g., "spotify")
	Name() string

	// AuthorizationURL returns the URL the user is sent to, carrying state.
	AuthorizationURL(state string) string

	// ExchangeCode exchanges an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenResponse, error)

	// FetchIdentity returns the provider account that owns accessToken.
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)

	// RefreshToken obtains a new access token. The response may omit the
	// refresh token, in which case the caller keeps the one it has.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// TokenResponse is the provider's answer to a code exchange or refresh.
type TokenResponse struct {
	AccessToken string

	// RefreshToken is empty when the provider did not issue one.
	RefreshToken string

	TokenType string

	// ExpiresIn is the access token lifetime. Zero means unknown, and the
	// credential is stored already expired.
	ExpiresIn time.Duration

	Scopes []string
}

// Identity is the provider account behind an access token.
type Identity struct {
	// ID is the unique user identifier at the provider
	ID string `json:"id"`

	DisplayName string  `json:"display_name,omitempty"`
	Email       string  `json:"email,omitempty"`
	Country     string  `json:"country,omitempty"`
	Product     string  `json:"product,omitempty"`
	Images      []Image `json:"images,omitempty"`
}

// Image is a profile picture.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}
