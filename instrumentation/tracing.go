package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys.
//
// Never put credential values (access tokens, refresh tokens, codes, state
// keys) in attributes. Traces outlive the credentials and reach a wider
// audience than the service itself.
const (
	AttrUserID        = "authapi.user_id"
	AttrProviderID    = "authapi.provider_id"
	AttrTokenRotated  = "authapi.token.rotated" //nolint:gosec // attribute name, not a credential
	AttrRefreshState  = "authapi.refresh.state"
	AttrResult        = "result"
	AttrCacheHit      = "authapi.cache.hit"
	AttrRecordCreated = "authapi.record.created_at"

	AttrStorageOperation = "storage.operation"
	AttrStorageBackend   = "storage.backend"

	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"

	AttrAuditEventType = "security.audit.event_type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// StorageOp traces and measures a single storage call. Backends use it as
//
//	ctx, op := inst.StartStorageOp(ctx, "sqlite", "create_record")
//	defer func() { op.End(err) }()
type StorageOp struct {
	ctx       context.Context
	span      trace.Span
	metrics   *Metrics
	backend   string
	operation string
	started   time.Time
}

// StartStorageOp opens a span named storage.<operation>.
func (i *Instrumentation) StartStorageOp(ctx context.Context, backend, operation string) (context.Context, *StorageOp) {
	ctx, span := i.Tracer("storage").Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(AttrStorageBackend, backend),
			attribute.String(AttrStorageOperation, operation),
		))
	return ctx, &StorageOp{
		ctx:       ctx,
		span:      span,
		metrics:   i.Metrics(),
		backend:   backend,
		operation: operation,
		started:   time.Now(),
	}
}

// End closes the span and records the outcome.
func (op *StorageOp) End(err error) {
	result := "success"
	if err != nil {
		result = "error"
		RecordError(op.span, err)
	} else {
		SetSpanSuccess(op.span)
	}
	op.metrics.RecordStorageOperation(op.ctx, op.backend, op.operation, result,
		float64(time.Since(op.started).Microseconds())/1000)
	op.span.End()
}
