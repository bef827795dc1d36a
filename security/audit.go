package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
// A nil *Auditor is valid and logs nothing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type        string
	TenantID    string
	PrincipalID string
	Details     map[string]any
	Timestamp   time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"tenant_id", event.TenantID,
		"principal_id_hash", hashForLogging(event.PrincipalID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCredentialConnected logs when a code exchange stored a credential
func (a *Auditor) LogCredentialConnected(tenantID, principalID, scope string, hasRefreshToken bool) {
	a.LogEvent(Event{
		Type:        EventCredentialConnected,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Details: map[string]any{
			"scope":             scope,
			"has_refresh_token": hasRefreshToken,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(tenantID, principalID string, rotated bool, refreshCount int64) {
	a.LogEvent(Event{
		Type:        EventTokenRefreshed,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Details: map[string]any{
			"rotated":       rotated,
			"refresh_count": refreshCount,
		},
	})
}

// LogTokenRefreshFailed logs a rejected or failed refresh
func (a *Auditor) LogTokenRefreshFailed(tenantID, principalID, reason string) {
	a.LogEvent(Event{
		Type:        EventTokenRefreshFailed,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogTokenRevoked logs when a credential is removed
func (a *Auditor) LogTokenRevoked(tenantID, principalID string, providerRevoked bool) {
	a.LogEvent(Event{
		Type:        EventTokenRevoked,
		TenantID:    tenantID,
		PrincipalID: principalID,
		Details: map[string]any{
			"provider_revoked": providerRevoked,
		},
	})
}

// LogLegacyFallback logs use of the deprecated first-token-for-tenant resolution
func (a *Auditor) LogLegacyFallback(tenantID, selectedPrincipalID string) {
	a.LogEvent(Event{
		Type:        EventLegacyTenantFallback,
		TenantID:    tenantID,
		PrincipalID: selectedPrincipalID,
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
