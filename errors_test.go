package tenantoauth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/giantswarm/tenant-oauth/credential"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "tenant not configured", err: &credential.Error{Code: credential.CodeTenantNotConfigured}, want: MessageContactAdministrator},
		{name: "client secret missing", err: &credential.Error{Code: credential.CodeClientSecretMissing}, want: MessageContactAdministrator},
		{name: "not connected", err: &credential.Error{Code: credential.CodeNotConnected}, want: MessageReconnect},
		{name: "refresh failed", err: &credential.Error{Code: credential.CodeRefreshFailed}, want: MessageReconnect},
		{name: "exchange failed", err: &credential.Error{Code: credential.CodeExchangeFailed}, want: MessageRetry},
		{name: "invalid state", err: &credential.Error{Code: credential.CodeInvalidState}, want: MessageRetry},
		{name: "not a member", err: &credential.Error{Code: credential.CodeNotMember}, want: MessageNotMember},
		{name: "wrapped", err: fmt.Errorf("calendar sync: %w", &credential.Error{Code: credential.CodeNotConnected}), want: MessageReconnect},
		{name: "infrastructure", err: errors.New("connection refused"), want: MessageInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinels(t *testing.T) {
	err := fmt.Errorf("resolve: %w", &credential.Error{Code: credential.CodeRefreshFailed, TenantID: "acme"})

	if !errors.Is(err, ErrRefreshFailed) {
		t.Error("errors.Is(err, ErrRefreshFailed) = false")
	}
	if errors.Is(err, ErrNotConnected) {
		t.Error("errors.Is(err, ErrNotConnected) = true")
	}
	if !RequiresReconsent(err) {
		t.Error("RequiresReconsent() = false for RefreshFailed")
	}
	if IsConfigurationError(err) {
		t.Error("IsConfigurationError() = true for RefreshFailed")
	}
}
