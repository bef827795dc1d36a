package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never put token values, authorization codes or client
// secrets in span attributes. Only metadata such as presence flags, expiry
// and refresh counters.
const (
	// Credential attributes
	AttrTenantID       = "oauth.tenant_id"
	AttrPrincipalID    = "oauth.principal_id"
	AttrAdministrative = "oauth.administrative"
	AttrScope          = "oauth.scope"
	AttrPrompt         = "oauth.prompt"
	AttrTokenExpired   = "oauth.token.expired"   //nolint:gosec // expiry flag, not a token
	AttrRefreshPresent = "oauth.refresh.present" // whether a refresh token is stored
	AttrRefreshShared  = "oauth.refresh.shared"  // caller joined an in-flight refresh
	AttrTokenRotated   = "oauth.token.rotated"   //nolint:gosec // whether the provider rotated the refresh token
	AttrRefreshCount   = "oauth.refresh.count"
	AttrLegacyFallback = "oauth.legacy_fallback"
	AttrError          = "oauth.error"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"
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

// AddCredentialAttributes adds the tenant and principal of a credential to a span (nil-safe).
// Empty values are skipped.
func AddCredentialAttributes(span trace.Span, tenantID, principalID string) {
	if tenantID != "" {
		SetSpanAttributes(span, attribute.String(AttrTenantID, tenantID))
	}
	if principalID != "" {
		SetSpanAttributes(span, attribute.String(AttrPrincipalID, principalID))
	}
}

// AddRefreshAttributes adds refresh flight outcome attributes to a span (nil-safe)
func AddRefreshAttributes(span trace.Span, shared, rotated bool, refreshCount int64) {
	SetSpanAttributes(span,
		attribute.Bool(AttrRefreshShared, shared),
		attribute.Bool(AttrTokenRotated, rotated),
		attribute.Int64(AttrRefreshCount, refreshCount),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOperation, operation),
	)
}
