package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes for DeriveKey. Changing a value invalidates everything sealed with it.
const (
	PurposeClientSecrets = "tenant-oauth/client-secrets/v1"
	PurposeTokens        = "tenant-oauth/tokens-at-rest/v1" //nolint:gosec // G101: purpose label, not a credential
)

// DeriveKey derives a 32-byte AES-256 key for purpose from a master key using
// HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(master))
	}
	if purpose == "" {
		return nil, fmt.Errorf("key purpose is required")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// NewEncryptorForPurpose derives the purpose key from master and returns an Encryptor for it.
func NewEncryptorForPurpose(master []byte, purpose string) (*Encryptor, error) {
	key, err := DeriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}
