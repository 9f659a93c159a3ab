package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/Jnavarr56/authentication-api/instrumentation"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	now     func() time.Time
	metrics *instrumentation.Metrics
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetMetrics makes the auditor count every event by type, including events
// that are not logged because auditing is disabled.
func (a *Auditor) SetMetrics(m *instrumentation.Metrics) {
	if a != nil {
		a.metrics = m
	}
}

// Event represents a security audit event
type Event struct {
	Type       string
	UserID     string
	ProviderID string
	IPAddress  string
	Details    map[string]any
	Timestamp  time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil {
		return
	}
	a.metrics.RecordAuditEvent(context.Background(), event.Type)
	if !a.enabled {
		return
	}

	event.Timestamp = a.now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"provider_id_hash", hashForLogging(event.ProviderID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationStarted logs the start of a provider authorization.
func (a *Auditor) LogAuthorizationStarted(ipAddress, provider string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationStarted,
		IPAddress: ipAddress,
		Details:   map[string]any{"provider": provider},
	})
}

// LogStateRejected logs a callback whose state could not be consumed.
func (a *Auditor) LogStateRejected(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventStateRejected,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogCredentialIssued logs a credential created from a code exchange.
func (a *Auditor) LogCredentialIssued(userID, providerID, ipAddress string) {
	a.LogEvent(Event{
		Type:       EventCredentialIssued,
		UserID:     userID,
		ProviderID: providerID,
		IPAddress:  ipAddress,
	})
}

// LogCredentialRefreshed logs a provider rotation.
func (a *Auditor) LogCredentialRefreshed(userID, providerID string, refreshRotated bool) {
	a.LogEvent(Event{
		Type:       EventCredentialRefreshed,
		UserID:     userID,
		ProviderID: providerID,
		Details:    map[string]any{"refresh_token_rotated": refreshRotated},
	})
}

// LogProviderExchangeFailed logs a code the provider refused.
func (a *Auditor) LogProviderExchangeFailed(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventProviderCodeExchangeFailed,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogDirectoryLookupFailed logs a provider identity the directory could not
// resolve.
func (a *Auditor) LogDirectoryLookupFailed(providerID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:       EventDirectoryLookupFailed,
		ProviderID: providerID,
		IPAddress:  ipAddress,
		Details:    map[string]any{"reason": reason},
	})
}

// LogRefreshRejected logs a refresh the provider refused.
func (a *Auditor) LogRefreshRejected(userID, providerID, reason string) {
	a.LogEvent(Event{
		Type:       EventRefreshRejected,
		UserID:     userID,
		ProviderID: providerID,
		Details:    map[string]any{"reason": reason},
	})
}

// LogRefreshStoreFailed logs a rotated credential that could not be
// persisted. The user has to re-authorize, so it is raised as critical.
func (a *Auditor) LogRefreshStoreFailed(userID, providerID string) {
	a.LogEvent(Event{
		Type:       EventRefreshStoreFailed,
		UserID:     userID,
		ProviderID: providerID,
		Details:    map[string]any{"severity": "critical"},
	})
}

// LogMalformedToken logs a transport token that could not be decoded.
func (a *Auditor) LogMalformedToken(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventMalformedToken,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	if a != nil {
		a.metrics.RecordRateLimitExceeded(context.Background())
	}
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
