package security

// Event type constants for security audit logging.
const (
	// Authorization flow

	// EventAuthorizationStarted is logged when a state is issued and the
	// caller is sent to the provider.
	EventAuthorizationStarted = "authorization_started"

	// EventStateRejected is logged when a callback state is unknown, already
	// consumed, expired or fails authentication.
	EventStateRejected = "state_rejected"

	// EventProviderCodeExchangeFailed is logged when the provider refuses an
	// authorization code.
	EventProviderCodeExchangeFailed = "provider_code_exchange_failed"

	// EventDirectoryLookupFailed is logged when the user directory cannot
	// resolve or create the account for a provider identity.
	EventDirectoryLookupFailed = "directory_lookup_failed"

	// Credential lifecycle

	// EventCredentialIssued is logged when a new credential record is stored
	// after a successful code exchange.
	EventCredentialIssued = "credential_issued" //nolint:gosec // G101: event name, not a credential

	// EventCredentialRefreshed is logged when an expired credential is
	// rotated through the provider.
	EventCredentialRefreshed = "credential_refreshed" //nolint:gosec // G101: event name, not a credential

	// EventRefreshRejected is logged when the provider refuses a refresh.
	EventRefreshRejected = "refresh_rejected"

	// EventRefreshStoreFailed is logged when a rotated credential could not
	// be persisted. The previous access token is already evicted from cache.
	EventRefreshStoreFailed = "refresh_store_failed"

	// Request protection

	// EventAuthFailure is logged when a transport token does not resolve to a
	// stored credential.
	EventAuthFailure = "auth_failure"

	// EventMalformedToken is logged when a transport token cannot be decoded.
	EventMalformedToken = "malformed_token" //nolint:gosec // G101: event name, not a credential

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
