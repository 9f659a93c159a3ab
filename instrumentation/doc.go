// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authentication service.
//
// Instrumentation is off by default and hands out no-op meters and tracers.
// A nil *Instrumentation is valid everywhere and behaves the same way, so
// components can hold one without nil checks.
//
// # Prometheus
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:        true,
//		ServiceVersion: version,
//		MetricExporter: instrumentation.ExporterPrometheus,
//		TracesEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(ctx)
//
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// # Available Metrics
//
// State:
//   - authapi.state.issued
//   - authapi.state.consumed (result)
//
// Credentials:
//   - authapi.credentials.stored
//   - authapi.token_cache.lookups (result: hit, miss)
//   - authapi.refresh.outcomes (authapi.refresh.state)
//
// Storage:
//   - authapi.storage.operations.total, authapi.storage.operation.duration
//     (storage.backend, storage.operation, result)
//   - authapi.storage.records (storage.backend)
//
// Provider:
//   - authapi.provider.api.calls.total, authapi.provider.api.errors.total,
//     authapi.provider.api.duration (provider.name, provider.operation)
//
// Security:
//   - authapi.rate_limit.exceeded
//   - authapi.audit.events.total (security.audit.event_type)
package instrumentation
