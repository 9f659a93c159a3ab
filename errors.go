package authapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Jnavarr56/authentication-api/credstore"
	"github.com/Jnavarr56/authentication-api/refresh"
	"github.com/Jnavarr56/authentication-api/state"
	"github.com/Jnavarr56/authentication-api/tokencodec"
)

// Error codes carried in ErrorResponse.Error.
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidState      = "invalid_state"
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInvalidGrant      = "invalid_grant"
	ErrorCodeAccessDenied      = "access_denied"
	ErrorCodeTokenFetch        = "token_fetch_error"
	ErrorCodeProfileFetch      = "profile_fetch_error"
	ErrorCodeDirectory         = "directory_error"
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// Service-level failures that are not owned by a core package.
var (
	// ErrCodeExchangeFailed is returned when the provider refuses the
	// authorization code.
	ErrCodeExchangeFailed = errors.New("provider code exchange failed")

	// ErrIdentityFailed is returned when the provider identity cannot be read
	// with a freshly issued access token.
	ErrIdentityFailed = errors.New("provider identity lookup failed")

	// ErrDirectoryFailed is returned when the user directory cannot resolve
	// or create the user. Nothing is persisted in that case.
	ErrDirectoryFailed = errors.New("user directory failed")
)

// OAuthError is an error with the HTTP status and code it is reported with.
type OAuthError struct {
	Code        string // error code (e.g., "invalid_state", "invalid_token")
	Description string // human-readable description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the presented token is unknown or no longer usable
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrAccessDenied indicates the user declined at the provider
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusUnauthorized)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// ErrorFromCore maps an error returned by Service to the error reported to
// the client. Descriptions are fixed strings; err's text never reaches the
// response.
func ErrorFromCore(err error) *OAuthError {
	var oauthErr *OAuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &oauthErr):
		return oauthErr
	case errors.Is(err, state.ErrUnrecognized):
		return NewOAuthError(ErrorCodeInvalidState, "State parameter is invalid or expired", http.StatusUnauthorized)
	case errors.Is(err, tokencodec.ErrMalformed):
		return ErrInvalidRequest("Token is malformed")
	case errors.Is(err, credstore.ErrNotFound):
		return ErrInvalidToken("Token is not recognized")
	case errors.Is(err, refresh.ErrSuperseded):
		return ErrInvalidToken("Token has been replaced by a newer one")
	case errors.Is(err, refresh.ErrProviderRejected):
		return NewOAuthError(ErrorCodeInvalidGrant, "Credential can no longer be refreshed, authorize again", http.StatusUnauthorized)
	case errors.Is(err, refresh.ErrStoreFailed):
		return ErrServerError("Refreshed credential could not be stored")
	case errors.Is(err, credstore.ErrPersistFailed):
		return ErrServerError("Credential could not be stored")
	case errors.Is(err, ErrCodeExchangeFailed):
		return NewOAuthError(ErrorCodeTokenFetch, "Authorization code could not be exchanged", http.StatusBadGateway)
	case errors.Is(err, ErrIdentityFailed):
		return NewOAuthError(ErrorCodeProfileFetch, "Provider profile could not be fetched", http.StatusBadGateway)
	case errors.Is(err, ErrDirectoryFailed):
		return NewOAuthError(ErrorCodeDirectory, "User could not be resolved", http.StatusInternalServerError)
	default:
		return ErrServerError("Internal server error")
	}
}
