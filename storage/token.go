package storage

import (
	"fmt"
	"time"

	"github.com/giantswarm/tenant-oauth/security"
)

// MergeRecord merges incoming into existing and returns the record to store.
// Neither argument is modified.
//
// Rules:
//   - a refresh token, once known, is never replaced by an empty one
//   - empty incoming fields (scope, token type, email) keep the stored value
//   - an incoming record without access token is a partial update and keeps the
//     stored access token together with its expiry
//   - RefreshCount never decreases and LastRefreshAt never moves backwards, so
//     re-applying the same update does not double count
func MergeRecord(existing, incoming *TokenRecord, now time.Time) *TokenRecord {
	merged := incoming.Clone()
	merged.UpdatedAt = now

	if existing == nil {
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
		return merged
	}

	merged.CreatedAt = existing.CreatedAt
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}

	if merged.AccessToken == "" {
		merged.AccessToken = existing.AccessToken
		merged.ExpiresAt = existing.ExpiresAt
	}
	if merged.RefreshToken == "" {
		merged.RefreshToken = existing.RefreshToken
	}
	if merged.TokenType == "" {
		merged.TokenType = existing.TokenType
	}
	if merged.Scope == "" {
		merged.Scope = existing.Scope
	}
	if merged.GoogleAccountEmail == "" {
		merged.GoogleAccountEmail = existing.GoogleAccountEmail
	}
	if existing.RefreshCount > merged.RefreshCount {
		merged.RefreshCount = existing.RefreshCount
	}
	if existing.LastRefreshAt.After(merged.LastRefreshAt) {
		merged.LastRefreshAt = existing.LastRefreshAt
	}

	return merged
}

// ValidateRecord checks that a record can be persisted.
func ValidateRecord(record *TokenRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record cannot be nil", ErrInvalidRecord)
	}
	if !record.Valid() {
		return fmt.Errorf("%w: principal and tenant are required", ErrInvalidRecord)
	}
	return nil
}

// EncryptRecord returns a copy of record with access and refresh token sealed by codec.
// A nil codec returns the record unchanged.
func EncryptRecord(record *TokenRecord, codec security.SecretCodec) (*TokenRecord, error) {
	if codec == nil || record == nil {
		return record, nil
	}

	sealed := record.Clone()
	if sealed.AccessToken != "" {
		enc, err := codec.Encrypt(sealed.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		sealed.AccessToken = enc
	}
	if sealed.RefreshToken != "" {
		enc, err := codec.Encrypt(sealed.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		sealed.RefreshToken = enc
	}
	return sealed, nil
}

// DecryptRecord reverses EncryptRecord.
func DecryptRecord(record *TokenRecord, codec security.SecretCodec) (*TokenRecord, error) {
	if codec == nil || record == nil {
		return record, nil
	}

	opened := record.Clone()
	if opened.AccessToken != "" {
		dec, err := codec.Decrypt(opened.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
		opened.AccessToken = dec
	}
	if opened.RefreshToken != "" {
		dec, err := codec.Decrypt(opened.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		opened.RefreshToken = dec
	}
	return opened, nil
}
