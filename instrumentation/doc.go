// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the tenant-oauth library.
//
// It exposes:
//   - Metrics: counters and histograms for consent, exchange, resolution, refresh and revocation
//   - Traces: spans around storage operations, provider calls and refresh flights
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-service",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// When Enabled is true and no providers are configured, the global OTEL
// providers (otel.GetMeterProvider, otel.GetTracerProvider) are used. Pass an
// explicit MeterProvider or TracerProvider to route data elsewhere, e.g. an
// sdk/metric MeterProvider with a ManualReader in tests.
//
// # Available Metrics
//
// Credential lifecycle:
//   - oauth.authorization.started{prompt} - Consent URLs issued
//   - oauth.code.exchanged{result} - Authorization codes exchanged
//   - oauth.credential.resolved{mode, result} - Credential resolutions
//   - oauth.legacy_fallback.used - Uses of the deprecated first-token-for-tenant path
//   - oauth.token.refresh.attempts{result} - Provider refresh calls (one per flight)
//   - oauth.token.refresh.shared - Callers that joined an in-flight refresh
//   - oauth.token.refresh.duration{result} - Refresh flight duration in milliseconds
//   - oauth.token.revoked{provider_revoked} - Credentials removed
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.records{type} - Stored credentials and tenant configs
//
// Provider:
//   - provider.api.calls.total{provider, operation, status}
//   - provider.api.duration{provider, operation}
//   - provider.api.errors.total{provider, operation, error_type}
//
// # Cardinality
//
// Tenant and principal identifiers are never used as metric labels. They are
// attached to spans only, and principal identifiers are hashed by the audit
// logger.
//
// # Security Considerations
//
// NEVER record access tokens, refresh tokens, authorization codes or client
// secrets in spans or metrics. Only record metadata such as token presence,
// expiry and refresh counters.
package instrumentation
