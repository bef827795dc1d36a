// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/tenant-oauth/storage"
)

// MockTokenStore is a mock implementation of TokenStore for testing.
// The default funcs keep records in a map and merge on upsert; override
// any of them to inject failures.
type MockTokenStore struct {
	mu      sync.RWMutex
	records map[storage.Key]*storage.TokenRecord

	GetFunc            func(ctx context.Context, key storage.Key) (*storage.TokenRecord, error)
	UpsertFunc         func(ctx context.Context, record *storage.TokenRecord) (*storage.TokenRecord, error)
	DeleteFunc         func(ctx context.Context, key storage.Key) error
	FirstForTenantFunc func(ctx context.Context, tenantID string) (*storage.TokenRecord, error)

	callsMu    sync.Mutex
	CallCounts map[string]int
}

// NewMockTokenStore creates a new mock token store
func NewMockTokenStore() *MockTokenStore {
	m := &MockTokenStore{
		records:    make(map[storage.Key]*storage.TokenRecord),
		CallCounts: make(map[string]int),
	}

	// Set default implementations
	m.GetFunc = func(_ context.Context, key storage.Key) (*storage.TokenRecord, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		record, ok := m.records[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrTokenNotFound, key)
		}
		return record.Clone(), nil
	}

	m.UpsertFunc = func(_ context.Context, record *storage.TokenRecord) (*storage.TokenRecord, error) {
		if err := storage.ValidateRecord(record); err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		merged := storage.MergeRecord(m.records[record.Key], record, time.Now())
		m.records[record.Key] = merged
		return merged.Clone(), nil
	}

	m.DeleteFunc = func(_ context.Context, key storage.Key) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.records, key)
		return nil
	}

	m.FirstForTenantFunc = func(_ context.Context, tenantID string) (*storage.TokenRecord, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		var first *storage.TokenRecord
		for key, record := range m.records {
			if key.TenantID == tenantID && (first == nil || record.CreatedAt.Before(first.CreatedAt)) {
				first = record
			}
		}
		if first == nil {
			return nil, fmt.Errorf("%w: tenant %s", storage.ErrTokenNotFound, tenantID)
		}
		return first.Clone(), nil
	}

	return m
}

func (m *MockTokenStore) count(name string) {
	m.callsMu.Lock()
	m.CallCounts[name]++
	m.callsMu.Unlock()
}

// GetCallCount returns how often the named method was called
func (m *MockTokenStore) GetCallCount(name string) int {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	return m.CallCounts[name]
}

// Get calls GetFunc
func (m *MockTokenStore) Get(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	m.count("Get")
	return m.GetFunc(ctx, key)
}

// Upsert calls UpsertFunc
func (m *MockTokenStore) Upsert(ctx context.Context, record *storage.TokenRecord) (*storage.TokenRecord, error) {
	m.count("Upsert")
	return m.UpsertFunc(ctx, record)
}

// Delete calls DeleteFunc
func (m *MockTokenStore) Delete(ctx context.Context, key storage.Key) error {
	m.count("Delete")
	return m.DeleteFunc(ctx, key)
}

// FirstForTenant calls FirstForTenantFunc
func (m *MockTokenStore) FirstForTenant(ctx context.Context, tenantID string) (*storage.TokenRecord, error) {
	m.count("FirstForTenant")
	return m.FirstForTenantFunc(ctx, tenantID)
}

// Put stores record as is, bypassing merge and call counting
func (m *MockTokenStore) Put(record *storage.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.Key] = record.Clone()
}

// MockTenantStore is a mock implementation of TenantStore for testing
type MockTenantStore struct {
	mu          sync.RWMutex
	configs     map[string]*storage.TenantOAuthConfig
	memberships []*storage.Membership

	GetOAuthConfigFunc    func(ctx context.Context, tenantID string) (*storage.TenantOAuthConfig, error)
	MembershipFunc        func(ctx context.Context, tenantID, principalID string) (*storage.Membership, error)
	FindMemberByEmailFunc func(ctx context.Context, tenantID, email string) (*storage.Membership, error)
	LatestMembershipFunc  func(ctx context.Context, principalID string) (*storage.Membership, error)
}

// NewMockTenantStore creates a new mock tenant store
func NewMockTenantStore() *MockTenantStore {
	m := &MockTenantStore{
		configs: make(map[string]*storage.TenantOAuthConfig),
	}

	m.GetOAuthConfigFunc = func(_ context.Context, tenantID string) (*storage.TenantOAuthConfig, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		cfg, ok := m.configs[tenantID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrTenantConfigNotFound, tenantID)
		}
		c := *cfg
		return &c, nil
	}

	m.MembershipFunc = func(_ context.Context, tenantID, principalID string) (*storage.Membership, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, ms := range m.memberships {
			if ms.TenantID == tenantID && ms.PrincipalID == principalID {
				c := *ms
				return &c, nil
			}
		}
		return nil, storage.ErrMembershipNotFound
	}

	m.FindMemberByEmailFunc = func(_ context.Context, tenantID, email string) (*storage.Membership, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, ms := range m.memberships {
			if ms.TenantID == tenantID && ms.Email == email {
				c := *ms
				return &c, nil
			}
		}
		return nil, storage.ErrMembershipNotFound
	}

	m.LatestMembershipFunc = func(_ context.Context, principalID string) (*storage.Membership, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		var latest *storage.Membership
		for _, ms := range m.memberships {
			if ms.PrincipalID == principalID && (latest == nil || ms.LastActiveAt.After(latest.LastActiveAt)) {
				latest = ms
			}
		}
		if latest == nil {
			return nil, storage.ErrMembershipNotFound
		}
		c := *latest
		return &c, nil
	}

	return m
}

// SetOAuthConfig stores a tenant OAuth client
func (m *MockTenantStore) SetOAuthConfig(cfg *storage.TenantOAuthConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.configs[cfg.TenantID] = &c
}

// AddMembership adds a membership
func (m *MockTenantStore) AddMembership(ms *storage.Membership) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *ms
	m.memberships = append(m.memberships, &c)
}

// GetOAuthConfig calls GetOAuthConfigFunc
func (m *MockTenantStore) GetOAuthConfig(ctx context.Context, tenantID string) (*storage.TenantOAuthConfig, error) {
	return m.GetOAuthConfigFunc(ctx, tenantID)
}

// Membership calls MembershipFunc
func (m *MockTenantStore) Membership(ctx context.Context, tenantID, principalID string) (*storage.Membership, error) {
	return m.MembershipFunc(ctx, tenantID, principalID)
}

// FindMemberByEmail calls FindMemberByEmailFunc
func (m *MockTenantStore) FindMemberByEmail(ctx context.Context, tenantID, email string) (*storage.Membership, error) {
	return m.FindMemberByEmailFunc(ctx, tenantID, email)
}

// LatestMembership calls LatestMembershipFunc
func (m *MockTenantStore) LatestMembership(ctx context.Context, principalID string) (*storage.Membership, error) {
	return m.LatestMembershipFunc(ctx, principalID)
}

var (
	_ storage.TokenStore  = (*MockTokenStore)(nil)
	_ storage.TenantStore = (*MockTenantStore)(nil)
)
