package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result label values
const (
	ResultSuccess        = "success"
	ResultFailure        = "failure"
	ResultNotConnected   = "not_connected"
	ResultNoRefreshToken = "no_refresh_token"
)

// Resolution mode label values
const (
	ModePrincipal      = "principal"
	ModeAdministrative = "administrative"
	ModeLegacy         = "legacy"
)

// Metrics holds all metric instruments for the credential lifecycle
type Metrics struct {
	// Credential lifecycle
	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	CredentialResolved   metric.Int64Counter
	LegacyFallbackUsed   metric.Int64Counter
	RefreshAttempts      metric.Int64Counter
	RefreshShared        metric.Int64Counter
	RefreshDuration      metric.Float64Histogram
	TokenRevoked         metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageRecords           metric.Int64ObservableGauge

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter

	// Audit
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	credentialMeter := inst.Meter("credential")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")
	securityMeter := inst.Meter("security")

	var err error
	counter := func(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}
	histogram := func(meter metric.Meter, name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}

	m.AuthorizationStarted = counter(credentialMeter, "oauth.authorization.started",
		"Number of consent URLs issued", "{flow}")
	m.CodeExchanged = counter(credentialMeter, "oauth.code.exchanged",
		"Number of authorization codes exchanged for tokens", "{exchange}")
	m.CredentialResolved = counter(credentialMeter, "oauth.credential.resolved",
		"Number of credential resolutions", "{resolution}")
	m.LegacyFallbackUsed = counter(credentialMeter, "oauth.legacy_fallback.used",
		"Number of resolutions served by the first-token-for-tenant fallback", "{resolution}")
	m.RefreshAttempts = counter(credentialMeter, "oauth.token.refresh.attempts",
		"Number of refresh calls made to the provider", "{refresh}")
	m.RefreshShared = counter(credentialMeter, "oauth.token.refresh.shared",
		"Number of callers that joined an in-flight refresh", "{caller}")
	m.RefreshDuration = histogram(credentialMeter, "oauth.token.refresh.duration",
		"Refresh flight duration in milliseconds")
	m.TokenRevoked = counter(credentialMeter, "oauth.token.revoked",
		"Number of credentials removed", "{revocation}")

	m.StorageOperationTotal = counter(storageMeter, "storage.operation.total",
		"Total number of storage operations", "{operation}")
	m.StorageOperationDuration = histogram(storageMeter, "storage.operation.duration",
		"Storage operation duration in milliseconds")

	m.ProviderAPICallsTotal = counter(providerMeter, "provider.api.calls.total",
		"Total number of provider API calls", "{call}")
	m.ProviderAPIDuration = histogram(providerMeter, "provider.api.duration",
		"Provider API call duration in milliseconds")
	m.ProviderAPIErrors = counter(providerMeter, "provider.api.errors.total",
		"Total number of provider API errors", "{error}")

	m.AuditEventsTotal = counter(securityMeter, "oauth.audit.events.total",
		"Total number of audit events", "{event}")

	if err != nil {
		return nil, err
	}

	m.StorageRecords, err = storageMeter.Int64ObservableGauge(
		"storage.records",
		metric.WithDescription("Number of stored records by type"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.records gauge: %w", err)
	}

	return m, nil
}

func attrRecordType(t string) attribute.KeyValue {
	return attribute.String("type", t)
}

// RecordAuthorizationStarted records an issued consent URL
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, prompt string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("prompt", prompt),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, result string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordResolution records a credential resolution
func (m *Metrics) RecordResolution(ctx context.Context, mode, result string) {
	m.CredentialResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result),
	))
}

// RecordLegacyFallback records a use of the deprecated tenant fallback
func (m *Metrics) RecordLegacyFallback(ctx context.Context) {
	m.LegacyFallbackUsed.Add(ctx, 1)
}

// RecordRefresh records a completed refresh flight
func (m *Metrics) RecordRefresh(ctx context.Context, result string, rotated bool, durationMs float64) {
	m.RefreshAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.Bool("rotated", rotated),
	))
	m.RefreshDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordRefreshShared records a caller that received another caller's refresh result
func (m *Metrics) RecordRefreshShared(ctx context.Context) {
	m.RefreshShared.Add(ctx, 1)
}

// RecordTokenRevocation records a credential removal
func (m *Metrics) RecordTokenRevocation(ctx context.Context, providerRevoked bool) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("provider_revoked", providerRevoked),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
	))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))

	if err != nil {
		errorType := "unknown"
		if statusCode >= 400 && statusCode < 500 {
			errorType = "client_error"
		} else if statusCode >= 500 {
			errorType = "server_error"
		}

		m.ProviderAPIErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("error_type", errorType),
		))
	}
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
