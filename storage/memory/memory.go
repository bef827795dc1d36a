// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Store is an in-memory implementation of all storage interfaces.
// It implements TokenStore, TenantStore and TenantAdmin.
type Store struct {
	mu sync.RWMutex

	// Credential records (token fields encrypted at rest if codec is set)
	tokens map[storage.Key]*storage.TokenRecord

	// Tenant data
	configs     map[string]*storage.TenantOAuthConfig
	memberships map[string]map[string]*storage.Membership // principal -> tenant -> membership

	codec security.SecretCodec

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	tokensCountAtomic  atomic.Int64
	configsCountAtomic atomic.Int64

	now    func() time.Time
	logger *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.TenantStore = (*Store)(nil)
	_ storage.TenantAdmin = (*Store)(nil)
)

// New creates a new in-memory store. Records are only ever removed through
// Delete, so the refresh audit trail of a credential survives until it is
// revoked.
func New() *Store {
	return &Store{
		tokens:      make(map[storage.Key]*storage.TokenRecord),
		configs:     make(map[string]*storage.TenantOAuthConfig),
		memberships: make(map[string]map[string]*storage.Membership),
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetCodec enables encryption of access and refresh tokens at rest
func (s *Store) SetCodec(codec security.SecretCodec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codec = codec
	if codec != nil {
		s.logger.Info("Token encryption at rest enabled for storage")
	}
}

// SetClock overrides the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	// Initialize atomic counters with current counts
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.configsCountAtomic.Store(int64(len(s.configs)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.tokensCountAtomic.Load() },
			func() int64 { return s.configsCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// ============================================================
// TokenStore Implementation
// ============================================================

// Get returns a copy of the record stored under key
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	s.mu.RLock()
	codec := s.codec
	record, ok := s.tokens[key]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, key)
		return nil, err
	}

	var opened *storage.TokenRecord
	opened, err = storage.DecryptRecord(record.Clone(), codec)
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// Upsert merges record into the stored one under the store lock
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

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *storage.TokenRecord
	if stored, ok := s.tokens[record.Key]; ok {
		existing, err = storage.DecryptRecord(stored, s.codec)
		if err != nil {
			return nil, err
		}
	}

	merged := storage.MergeRecord(existing, record, s.now())

	var sealed *storage.TokenRecord
	sealed, err = storage.EncryptRecord(merged, s.codec)
	if err != nil {
		return nil, err
	}
	s.tokens[record.Key] = sealed.Clone()

	if existing == nil {
		s.tokensCountAtomic.Add(1)
	}
	s.logger.Debug("Stored credential",
		"tenant_id", record.TenantID,
		"principal_id", record.PrincipalID,
		"created", existing == nil)

	return merged, nil
}

// Delete removes the record stored under key
func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[key]; ok {
		delete(s.tokens, key)
		s.tokensCountAtomic.Add(-1)
	}
	return nil
}

// FirstForTenant returns the tenant's oldest record.
// Deprecated: only serves the legacy tenant-administrative fallback.
func (s *Store) FirstForTenant(ctx context.Context, tenantID string) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "first_for_tenant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "first_for_tenant", err, startTime)
	}()

	s.mu.RLock()
	codec := s.codec
	var first *storage.TokenRecord
	for key, record := range s.tokens {
		if key.TenantID != tenantID {
			continue
		}
		if first == nil || olderThan(record, first) {
			first = record
		}
	}
	first = first.Clone()
	s.mu.RUnlock()

	if first == nil {
		err = fmt.Errorf("%w: tenant %s", storage.ErrTokenNotFound, tenantID)
		return nil, err
	}

	var opened *storage.TokenRecord
	opened, err = storage.DecryptRecord(first, codec)
	if err != nil {
		return nil, err
	}
	return opened, nil
}

func olderThan(a, b *storage.TokenRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.PrincipalID < b.PrincipalID
}

// ============================================================
// TenantStore / TenantAdmin Implementation
// ============================================================

// GetOAuthConfig returns a copy of the tenant's OAuth client
func (s *Store) GetOAuthConfig(ctx context.Context, tenantID string) (*storage.TenantOAuthConfig, error) {
	ctx, span := s.startStorageSpan(ctx, "get_oauth_config")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_oauth_config", err, startTime)
	}()

	s.mu.RLock()
	cfg, ok := s.configs[tenantID]
	s.mu.RUnlock()

	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrTenantConfigNotFound, tenantID)
		return nil, err
	}

	c := *cfg
	return &c, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cfg
	c.AdminEmail = util.NormalizeEmail(c.AdminEmail)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	if _, ok := s.configs[c.TenantID]; !ok {
		s.configsCountAtomic.Add(1)
	}
	s.configs[c.TenantID] = &c
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[principalID][tenantID]
	if !ok {
		err = fmt.Errorf("%w: principal %s in tenant %s", storage.ErrMembershipNotFound, principalID, tenantID)
		return nil, err
	}
	c := *m
	return &c, nil
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

	email = util.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenants := range s.memberships {
		if m, ok := tenants[tenantID]; ok && m.Email == email {
			c := *m
			return &c, nil
		}
	}

	err = fmt.Errorf("%w: tenant %s", storage.ErrMembershipNotFound, tenantID)
	return nil, err
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	tenants := s.memberships[principalID]
	if len(tenants) == 0 {
		err = fmt.Errorf("%w: principal %s", storage.ErrMembershipNotFound, principalID)
		return nil, err
	}

	all := make([]*storage.Membership, 0, len(tenants))
	for _, m := range tenants {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastActiveAt.Equal(all[j].LastActiveAt) {
			return all[i].LastActiveAt.After(all[j].LastActiveAt)
		}
		return all[i].TenantID < all[j].TenantID
	})

	c := *all[0]
	return &c, nil
}

// SaveMembership creates or replaces a membership
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

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *m
	c.Email = util.NormalizeEmail(c.Email)
	now := s.now()
	if c.JoinedAt.IsZero() {
		c.JoinedAt = now
	}
	if c.LastActiveAt.IsZero() {
		c.LastActiveAt = c.JoinedAt
	}

	tenants, ok := s.memberships[c.PrincipalID]
	if !ok {
		tenants = make(map[string]*storage.Membership)
		s.memberships[c.PrincipalID] = tenants
	}
	tenants[c.TenantID] = &c
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else {
		if span != nil {
			span.SetStatus(codes.Ok, "")
		}
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
