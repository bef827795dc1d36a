package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/tenant-oauth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// storedRecord is the JSON form of a TokenRecord. Token fields hold
// ciphertext when a codec is configured.
type storedRecord struct {
	PrincipalID        string    `json:"principal_id"`
	TenantID           string    `json:"tenant_id"`
	AccessToken        string    `json:"access_token,omitempty"`
	RefreshToken       string    `json:"refresh_token,omitempty"`
	TokenType          string    `json:"token_type,omitempty"`
	Scope              string    `json:"scope,omitempty"`
	ExpiresAt          time.Time `json:"expires_at,omitzero"`
	GoogleAccountEmail string    `json:"google_account_email,omitempty"`
	LastRefreshAt      time.Time `json:"last_refresh_at,omitzero"`
	RefreshCount       int64     `json:"refresh_count,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toStored(r *storage.TokenRecord) storedRecord {
	return storedRecord{
		PrincipalID:        r.PrincipalID,
		TenantID:           r.TenantID,
		AccessToken:        r.AccessToken,
		RefreshToken:       r.RefreshToken,
		TokenType:          r.TokenType,
		Scope:              r.Scope,
		ExpiresAt:          r.ExpiresAt,
		GoogleAccountEmail: r.GoogleAccountEmail,
		LastRefreshAt:      r.LastRefreshAt,
		RefreshCount:       r.RefreshCount,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (sr storedRecord) record() *storage.TokenRecord {
	return &storage.TokenRecord{
		Key:                storage.Key{PrincipalID: sr.PrincipalID, TenantID: sr.TenantID},
		AccessToken:        sr.AccessToken,
		RefreshToken:       sr.RefreshToken,
		TokenType:          sr.TokenType,
		Scope:              sr.Scope,
		ExpiresAt:          sr.ExpiresAt,
		GoogleAccountEmail: sr.GoogleAccountEmail,
		LastRefreshAt:      sr.LastRefreshAt,
		RefreshCount:       sr.RefreshCount,
		CreatedAt:          sr.CreatedAt,
		UpdatedAt:          sr.UpdatedAt,
	}
}

// decode unmarshals and decrypts a stored record
func (s *Store) decode(data string) (*storage.TokenRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal([]byte(data), &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return storage.DecryptRecord(sr.record(), s.getCodec())
}

// encode encrypts and marshals a record
func (s *Store) encode(record *storage.TokenRecord) (string, error) {
	sealed, err := storage.EncryptRecord(record, s.getCodec())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(toStored(sealed))
	if err != nil {
		return "", fmt.Errorf("failed to marshal token record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}
	return string(data), nil
}

// Get retrieves the record stored under key and decrypts if necessary
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	data, getErr := s.client.Get(ctx, s.tokenKey(key)).Result()
	if getErr != nil {
		if errors.Is(getErr, redis.Nil) {
			err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, key)
			return nil, err
		}
		err = fmt.Errorf("failed to get token record: %w", getErr)
		return nil, err
	}

	var record *storage.TokenRecord
	record, err = s.decode(data)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Upsert merges record into the stored one inside an optimistic WATCH/MULTI
// transaction. Concurrent writers to the same key retry.
func (s *Store) Upsert(ctx context.Context, record *storage.TokenRecord) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "upsert_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "upsert_token", err, startTime)
	}()

	if err = storage.ValidateRecord(record); err != nil {
		return nil, err
	}
	if err = validateID(record.TenantID, "tenantID"); err != nil {
		return nil, err
	}
	if err = validateID(record.PrincipalID, "principalID"); err != nil {
		return nil, err
	}

	key := s.tokenKey(record.Key)
	indexKey := s.tenantTokensKey(record.TenantID)

	var merged *storage.TokenRecord
	var created bool
	txf := func(tx *redis.Tx) error {
		var existing *storage.TokenRecord
		data, getErr := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
		case getErr != nil:
			return fmt.Errorf("failed to read token record: %w", getErr)
		default:
			var decErr error
			existing, decErr = s.decode(data)
			if decErr != nil {
				return decErr
			}
		}

		merged = storage.MergeRecord(existing, record, s.now())
		created = existing == nil

		encoded, encErr := s.encode(merged)
		if encErr != nil {
			return encErr
		}

		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZAddNX(ctx, indexKey, redis.Z{
				Score:  float64(merged.CreatedAt.UnixMilli()),
				Member: record.PrincipalID,
			})
			return nil
		})
		return pipeErr
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.logger.Debug("Token record changed during upsert, retrying",
			"tenant_id", record.TenantID,
			"attempt", attempt+1)
	}
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidRecord) && !errors.Is(err, errInputTooLarge) {
			err = fmt.Errorf("failed to upsert token record: %w", err)
		}
		return nil, err
	}

	s.logger.Debug("Stored credential",
		"tenant_id", record.TenantID,
		"principal_id", record.PrincipalID,
		"created", created)

	return merged, nil
}

// Delete removes the record and its tenant index entry
func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", err, startTime)
	}()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tokenKey(key))
		pipe.ZRem(ctx, s.tenantTokensKey(key.TenantID), key.PrincipalID)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to delete token record: %w", err)
		return err
	}

	s.logger.Debug("Deleted credential", "tenant_id", key.TenantID, "principal_id", key.PrincipalID)
	return nil
}

// firstForTenantBatch is how many index entries are inspected per round
const firstForTenantBatch = 16

// FirstForTenant returns the tenant's oldest record. Ties are broken by
// principal id, which is the order Redis keeps equal scores in.
// Deprecated: only serves the legacy tenant-administrative fallback.
func (s *Store) FirstForTenant(ctx context.Context, tenantID string) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "first_for_tenant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "first_for_tenant", err, startTime)
	}()

	indexKey := s.tenantTokensKey(tenantID)
	for start := int64(0); ; {
		principals, rangeErr := s.client.ZRange(ctx, indexKey, start, start+firstForTenantBatch-1).Result()
		if rangeErr != nil {
			err = fmt.Errorf("failed to read tenant token index: %w", rangeErr)
			return nil, err
		}
		if len(principals) == 0 {
			break
		}

		removed := int64(0)
		for _, principalID := range principals {
			key := storage.Key{PrincipalID: principalID, TenantID: tenantID}
			data, getErr := s.client.Get(ctx, s.tokenKey(key)).Result()
			if errors.Is(getErr, redis.Nil) {
				// stale index entry left by an interrupted writer
				s.client.ZRem(ctx, indexKey, principalID)
				removed++
				continue
			}
			if getErr != nil {
				err = fmt.Errorf("failed to get token record: %w", getErr)
				return nil, err
			}

			var record *storage.TokenRecord
			record, err = s.decode(data)
			if err != nil {
				return nil, err
			}
			return record, nil
		}
		start += int64(len(principals)) - removed
	}

	err = fmt.Errorf("%w: tenant %s", storage.ErrTokenNotFound, tenantID)
	return nil, err
}
