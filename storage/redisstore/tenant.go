package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/storage"
)

// ============================================================
// TenantStore / TenantAdmin Implementation
// ============================================================

// GetOAuthConfig returns the tenant's OAuth client
func (s *Store) GetOAuthConfig(ctx context.Context, tenantID string) (*storage.TenantOAuthConfig, error) {
	ctx, span := s.startStorageSpan(ctx, "get_oauth_config")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_oauth_config", err, startTime)
	}()

	data, getErr := s.client.Get(ctx, s.tenantConfigKey(tenantID)).Bytes()
	if getErr != nil {
		if errors.Is(getErr, redis.Nil) {
			err = fmt.Errorf("%w: %s", storage.ErrTenantConfigNotFound, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to get tenant config: %w", getErr)
		return nil, err
	}

	var cfg storage.TenantOAuthConfig
	if err = json.Unmarshal(data, &cfg); err != nil {
		err = fmt.Errorf("failed to unmarshal tenant config: %w", err)
		return nil, err
	}
	return &cfg, nil
}

// SaveOAuthConfig creates or replaces the tenant's OAuth client
func (s *Store) SaveOAuthConfig(ctx context.Context, cfg *storage.TenantOAuthConfig) error {
	ctx, span := s.startStorageSpan(ctx, "save_oauth_config")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_oauth_config", err, startTime)
	}()

	if cfg == nil || cfg.TenantID == "" {
		err = fmt.Errorf("tenant id cannot be empty")
		return err
	}
	if err = validateID(cfg.TenantID, "tenantID"); err != nil {
		return err
	}

	c := *cfg
	c.AdminEmail = util.NormalizeEmail(c.AdminEmail)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}

	data, marshalErr := json.Marshal(c)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal tenant config: %w", marshalErr)
		return err
	}

	if err = s.client.Set(ctx, s.tenantConfigKey(c.TenantID), data, 0).Err(); err != nil {
		err = fmt.Errorf("failed to save tenant config: %w", err)
		return err
	}
	return nil
}

// Membership returns the principal's membership in the tenant
func (s *Store) Membership(ctx context.Context, tenantID, principalID string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "get_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_membership", err, startTime)
	}()

	data, getErr := s.client.HGet(ctx, s.membershipKey(principalID), tenantID).Bytes()
	if getErr != nil {
		if errors.Is(getErr, redis.Nil) {
			err = fmt.Errorf("%w: principal %s in tenant %s", storage.ErrMembershipNotFound, principalID, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to read membership: %w", getErr)
		return nil, err
	}

	var m storage.Membership
	if err = json.Unmarshal(data, &m); err != nil {
		err = fmt.Errorf("failed to unmarshal membership: %w", err)
		return nil, err
	}
	return &m, nil
}

// FindMemberByEmail returns the tenant's membership with the given email
func (s *Store) FindMemberByEmail(ctx context.Context, tenantID, email string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "find_member_by_email")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_member_by_email", err, startTime)
	}()

	notFound := fmt.Errorf("%w: tenant %s", storage.ErrMembershipNotFound, tenantID)

	principalID, getErr := s.client.HGet(ctx, s.tenantMembersKey(tenantID), util.NormalizeEmail(email)).Result()
	if getErr != nil {
		if errors.Is(getErr, redis.Nil) {
			err = notFound
			return nil, err
		}
		err = fmt.Errorf("failed to read tenant members: %w", getErr)
		return nil, err
	}

	data, getErr := s.client.HGet(ctx, s.membershipKey(principalID), tenantID).Bytes()
	if getErr != nil {
		if errors.Is(getErr, redis.Nil) {
			err = notFound
			return nil, err
		}
		err = fmt.Errorf("failed to read membership: %w", getErr)
		return nil, err
	}

	var m storage.Membership
	if err = json.Unmarshal(data, &m); err != nil {
		err = fmt.Errorf("failed to unmarshal membership: %w", err)
		return nil, err
	}
	return &m, nil
}

// LatestMembership returns the principal's most recently active membership
func (s *Store) LatestMembership(ctx context.Context, principalID string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "latest_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "latest_membership", err, startTime)
	}()

	all, getErr := s.client.HGetAll(ctx, s.membershipKey(principalID)).Result()
	if getErr != nil {
		err = fmt.Errorf("failed to read memberships: %w", getErr)
		return nil, err
	}

	var latest *storage.Membership
	for _, data := range all {
		var m storage.Membership
		if jsonErr := json.Unmarshal([]byte(data), &m); jsonErr != nil {
			s.logger.Warn("Skipping unreadable membership", "error", jsonErr)
			continue
		}
		if latest == nil || m.LastActiveAt.After(latest.LastActiveAt) ||
			(m.LastActiveAt.Equal(latest.LastActiveAt) && m.TenantID < latest.TenantID) {
			latest = &m
		}
	}

	if latest == nil {
		err = fmt.Errorf("%w: principal %s", storage.ErrMembershipNotFound, principalID)
		return nil, err
	}
	return latest, nil
}

// SaveMembership creates or replaces a membership and its email index entry
func (s *Store) SaveMembership(ctx context.Context, m *storage.Membership) error {
	ctx, span := s.startStorageSpan(ctx, "save_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_membership", err, startTime)
	}()

	if m == nil || m.PrincipalID == "" || m.TenantID == "" {
		err = fmt.Errorf("principal and tenant cannot be empty")
		return err
	}

	c := *m
	c.Email = util.NormalizeEmail(c.Email)
	now := s.now()
	if c.JoinedAt.IsZero() {
		c.JoinedAt = now
	}
	if c.LastActiveAt.IsZero() {
		c.LastActiveAt = c.JoinedAt
	}

	data, marshalErr := json.Marshal(c)
	if marshalErr != nil {
		err = fmt.Errorf("failed to marshal membership: %w", marshalErr)
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.membershipKey(c.PrincipalID), c.TenantID, data)
		if c.Email != "" {
			pipe.HSet(ctx, s.tenantMembersKey(c.TenantID), c.Email, c.PrincipalID)
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("failed to save membership: %w", err)
		return err
	}
	return nil
}
