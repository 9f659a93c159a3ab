package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the service
type Metrics struct {
	// State
	StateIssued   metric.Int64Counter
	StateConsumed metric.Int64Counter

	// Credentials
	CredentialsStored metric.Int64Counter
	TokenCacheLookups metric.Int64Counter
	RefreshOutcomes   metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageRecords           metric.Int64ObservableGauge

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter
}

type instrumentSpec struct {
	name, desc, unit string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []struct {
		meter string
		spec  instrumentSpec
		dst   *metric.Int64Counter
	}{
		{"state", instrumentSpec{"authapi.state.issued", "CSRF states issued", "{state}"}, &m.StateIssued},
		{"state", instrumentSpec{"authapi.state.consumed", "CSRF states consumed, by result", "{state}"}, &m.StateConsumed},
		{"credstore", instrumentSpec{"authapi.credentials.stored", "Credential records persisted", "{record}"}, &m.CredentialsStored},
		{"credstore", instrumentSpec{"authapi.token_cache.lookups", "Token cache lookups, by result", "{lookup}"}, &m.TokenCacheLookups},
		{"refresh", instrumentSpec{"authapi.refresh.outcomes", "Refresh attempts, by final state", "{refresh}"}, &m.RefreshOutcomes},
		{"storage", instrumentSpec{"authapi.storage.operations.total", "Storage operations", "{operation}"}, &m.StorageOperationTotal},
		{"provider", instrumentSpec{"authapi.provider.api.calls.total", "Provider API calls", "{call}"}, &m.ProviderAPICallsTotal},
		{"provider", instrumentSpec{"authapi.provider.api.errors.total", "Provider API errors", "{error}"}, &m.ProviderAPIErrors},
		{"security", instrumentSpec{"authapi.rate_limit.exceeded", "Rate limit violations", "{violation}"}, &m.RateLimitExceeded},
		{"security", instrumentSpec{"authapi.audit.events.total", "Security audit events", "{event}"}, &m.AuditEventsTotal},
	}
	for _, c := range counters {
		counter, err := inst.Meter(c.meter).Int64Counter(c.spec.name,
			metric.WithDescription(c.spec.desc),
			metric.WithUnit(c.spec.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.spec.name, err)
		}
		*c.dst = counter
	}

	histograms := []struct {
		meter string
		spec  instrumentSpec
		dst   *metric.Float64Histogram
	}{
		{"storage", instrumentSpec{"authapi.storage.operation.duration", "Storage operation duration in milliseconds", "ms"}, &m.StorageOperationDuration},
		{"provider", instrumentSpec{"authapi.provider.api.duration", "Provider API call duration in milliseconds", "ms"}, &m.ProviderAPIDuration},
	}
	for _, h := range histograms {
		histogram, err := inst.Meter(h.meter).Float64Histogram(h.spec.name,
			metric.WithDescription(h.spec.desc),
			metric.WithUnit(h.spec.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.spec.name, err)
		}
		*h.dst = histogram
	}

	var err error
	m.StorageRecords, err = inst.Meter("storage").Int64ObservableGauge(
		"authapi.storage.records",
		metric.WithDescription("Credential records held by in-process stores"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.records gauge: %w", err)
	}

	return m, nil
}

func attrBackend(backend string) attribute.KeyValue {
	return attribute.String(AttrStorageBackend, backend)
}

// RecordStateIssued counts an issued CSRF state.
func (m *Metrics) RecordStateIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.StateIssued.Add(ctx, 1)
}

// RecordStateConsumed counts a consume attempt. result is "accepted",
// "unrecognized" or "error".
func (m *Metrics) RecordStateConsumed(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.StateConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordCredentialStored counts a persisted credential record.
func (m *Metrics) RecordCredentialStored(ctx context.Context) {
	if m == nil {
		return
	}
	m.CredentialsStored.Add(ctx, 1)
}

// RecordTokenCacheLookup counts a cache lookup as a hit or miss.
func (m *Metrics) RecordTokenCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TokenCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, result)))
}

// RecordRefreshOutcome counts a refresh attempt by its final state.
func (m *Metrics) RecordRefreshOutcome(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.RefreshOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrRefreshState, state)))
}

// RecordStorageOperation records count and duration of a storage call.
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attrBackend(backend),
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordProviderAPICall records a call to the OAuth provider.
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, durationMs float64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.String(AttrProviderOperation, operation),
	)
	m.ProviderAPICallsTotal.Add(ctx, 1, attrs)
	m.ProviderAPIDuration.Record(ctx, durationMs, attrs)
	if err != nil {
		m.ProviderAPIErrors.Add(ctx, 1, attrs)
	}
}

// RecordRateLimitExceeded counts a rejected request.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1)
}

// RecordAuditEvent counts a security audit event by type.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuditEventType, eventType)))
}
