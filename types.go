package authapi

import (
	"time"

	"github.com/Jnavarr56/authentication-api/directory"
	"github.com/Jnavarr56/authentication-api/providers"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// InitiateResponse is returned by the initiate endpoint.
type InitiateResponse struct {
	AuthorizationURL string `json:"spotify_authorization_url"`
}

// CallbackResponse is returned once the provider callback has been handled.
type CallbackResponse struct {
	User        *directory.User     `json:"user,omitempty"`
	Identity    *providers.Identity `json:"me_data"`
	AccessToken string              `json:"access_token"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	NewUser     bool                `json:"new_user"`
}

// AuthorizeResponse describes the credential behind a presented token.
type AuthorizeResponse struct {
	UserID      string     `json:"user_id,omitempty"`
	ProviderID  string     `json:"provider_id,omitempty"`
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Rotated     bool       `json:"rotated"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func expiryPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
