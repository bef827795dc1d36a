package credential

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestAuthorizationState_RoundTrip(t *testing.T) {
	now := testStart
	state := NewAuthorizationState("user-1", "acme", true, now)

	encoded, err := state.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("Encode() = %q, want unpadded base64url", encoded)
	}

	got, err := DecodeState(encoded, now.Add(time.Minute), DefaultStateMaxAge)
	if err != nil {
		t.Fatalf("DecodeState() error = %v", err)
	}
	if *got != *state {
		t.Errorf("DecodeState() = %+v, want %+v", got, state)
	}
}

func TestNewAuthorizationState_UniqueNonce(t *testing.T) {
	a := NewAuthorizationState("u", "t", false, testStart)
	b := NewAuthorizationState("u", "t", false, testStart)
	if a.Nonce == "" || a.Nonce == b.Nonce {
		t.Errorf("nonces should be unique and non-empty: %q %q", a.Nonce, b.Nonce)
	}
}

func TestDecodeState_Rejects(t *testing.T) {
	now := testStart
	enc := func(raw string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(raw))
	}
	issued := now.Unix()

	tests := []struct {
		name    string
		encoded string
		wantErr string
	}{
		{name: "empty", encoded: "", wantErr: "empty"},
		{name: "too long", encoded: strings.Repeat("a", maxEncodedStateLength+1), wantErr: "exceeds"},
		{name: "not base64", encoded: "!!!", wantErr: "base64url"},
		{name: "not json", encoded: enc("nope"), wantErr: "JSON"},
		{name: "unknown field", encoded: enc(`{"principalId":"u","tenantId":"t","nonce":"n","issuedAt":1,"admin":true}`), wantErr: "JSON"},
		{name: "trailing data", encoded: enc(`{"principalId":"u","tenantId":"t","nonce":"n","issuedAt":1}{}`), wantErr: "trailing"},
		{name: "no principal", encoded: enc(`{"tenantId":"t","nonce":"n","issuedAt":1}`), wantErr: "principal"},
		{name: "no tenant", encoded: enc(`{"principalId":"u","nonce":"n","issuedAt":1}`), wantErr: "tenant"},
		{name: "no nonce", encoded: enc(`{"principalId":"u","tenantId":"t","issuedAt":1}`), wantErr: "nonce"},
		{name: "no issue time", encoded: enc(`{"principalId":"u","tenantId":"t","nonce":"n"}`), wantErr: "issue time"},
		{
			name:    "expired",
			encoded: mustEncode(t, &AuthorizationState{PrincipalID: "u", TenantID: "t", Nonce: "n", IssuedAt: issued - int64(time.Hour/time.Second)}),
			wantErr: "expired",
		},
		{
			name:    "future",
			encoded: mustEncode(t, &AuthorizationState{PrincipalID: "u", TenantID: "t", Nonce: "n", IssuedAt: issued + int64(time.Hour/time.Second)}),
			wantErr: "future",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeState(tt.encoded, now, DefaultStateMaxAge)
			if err == nil {
				t.Fatal("DecodeState() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("DecodeState() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeState_NoMaxAge(t *testing.T) {
	old := &AuthorizationState{PrincipalID: "u", TenantID: "t", Nonce: "n", IssuedAt: testStart.Add(-48 * time.Hour).Unix()}
	if _, err := DecodeState(mustEncode(t, old), testStart, 0); err != nil {
		t.Errorf("DecodeState() with maxAge 0 error = %v", err)
	}
}

func mustEncode(t *testing.T, s *AuthorizationState) string {
	t.Helper()
	encoded, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}
