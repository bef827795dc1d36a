package credential

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// maxEncodedStateLength bounds the state accepted from a callback
	maxEncodedStateLength = 2048

	// DefaultStateMaxAge is how long a consent URL stays usable
	DefaultStateMaxAge = 15 * time.Minute

	// stateFutureSkew tolerates small clock differences between instances
	stateFutureSkew = time.Minute
)

// AuthorizationState travels through the provider's consent screen in the
// state parameter. It is not signed: the callback must re-check the principal
// against the current session before trusting the tenant id.
type AuthorizationState struct {
	PrincipalID  string `json:"principalId"`
	TenantID     string `json:"tenantId"`
	Nonce        string `json:"nonce"`
	IssuedAt     int64  `json:"issuedAt"`
	ForceConsent bool   `json:"forceConsent,omitempty"`
}

// NewAuthorizationState returns a state for the pair with a fresh nonce.
func NewAuthorizationState(principalID, tenantID string, forceConsent bool, now time.Time) *AuthorizationState {
	return &AuthorizationState{
		PrincipalID:  principalID,
		TenantID:     tenantID,
		Nonce:        uuid.NewString(),
		IssuedAt:     now.Unix(),
		ForceConsent: forceConsent,
	}
}

// Encode serializes the state as unpadded base64url JSON.
func (s *AuthorizationState) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issued returns IssuedAt as a time
func (s *AuthorizationState) Issued() time.Time {
	return time.Unix(s.IssuedAt, 0)
}

// DecodeState parses an untrusted state parameter. It rejects oversized
// input, unknown fields, missing identifiers and states older than maxAge.
// A non-positive maxAge disables the age check.
func DecodeState(encoded string, now time.Time, maxAge time.Duration) (*AuthorizationState, error) {
	if encoded == "" {
		return nil, errors.New("state is empty")
	}
	if len(encoded) > maxEncodedStateLength {
		return nil, fmt.Errorf("state exceeds %d bytes", maxEncodedStateLength)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("state is not base64url: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var s AuthorizationState
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("state is not valid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("state has trailing data")
	}

	switch {
	case s.PrincipalID == "":
		return nil, errors.New("state has no principal")
	case s.TenantID == "":
		return nil, errors.New("state has no tenant")
	case s.Nonce == "":
		return nil, errors.New("state has no nonce")
	case s.IssuedAt <= 0:
		return nil, errors.New("state has no issue time")
	}

	issued := s.Issued()
	if issued.After(now.Add(stateFutureSkew)) {
		return nil, errors.New("state was issued in the future")
	}
	if maxAge > 0 && now.Sub(issued) > maxAge {
		return nil, fmt.Errorf("state expired %s ago", now.Sub(issued)-maxAge)
	}

	return &s, nil
}
