package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor == nil {
				t.Fatal("NewAuditor() returned nil")
			}
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			auditor := NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), tt.enabled)

			auditor.LogEvent(Event{
				Type:        "test_event",
				TenantID:    "tenant-1",
				PrincipalID: "user-123",
				Details:     map[string]any{"key": "value"},
			})

			out := buf.String()
			if tt.wantLog && !strings.Contains(out, "security_audit") {
				t.Errorf("expected audit record, got %q", out)
			}
			if !tt.wantLog && out != "" {
				t.Errorf("expected no output, got %q", out)
			}
			if strings.Contains(out, "user-123") {
				t.Error("principal id must be hashed in audit output")
			}
		})
	}
}

func TestAuditor_NilSafe(t *testing.T) {
	var auditor *Auditor
	auditor.LogTokenRefreshed("tenant", "user", true, 1)
	auditor.LogLegacyFallback("tenant", "user")
}

func TestAuditor_Helpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(a *Auditor)
		wantEvent string
	}{
		{"connected", func(a *Auditor) { a.LogCredentialConnected("t", "p", "email", true) }, EventCredentialConnected},
		{"refreshed", func(a *Auditor) { a.LogTokenRefreshed("t", "p", false, 2) }, EventTokenRefreshed},
		{"refresh failed", func(a *Auditor) { a.LogTokenRefreshFailed("t", "p", "invalid_grant") }, EventTokenRefreshFailed},
		{"revoked", func(a *Auditor) { a.LogTokenRevoked("t", "p", false) }, EventTokenRevoked},
		{"legacy fallback", func(a *Auditor) { a.LogLegacyFallback("t", "p") }, EventLegacyTenantFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true))

			if !strings.Contains(buf.String(), "event_type="+tt.wantEvent) {
				t.Errorf("output %q does not contain event %q", buf.String(), tt.wantEvent)
			}
		})
	}
}

func Test_hashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	a := hashForLogging("user-1")
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != hashForLogging("user-1") {
		t.Error("hashForLogging must be deterministic")
	}
	if a == hashForLogging("user-2") {
		t.Error("different inputs should hash differently")
	}
}
