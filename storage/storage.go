// Package storage defines interfaces for persisting provider credentials and the
// tenant data the credential manager reads. It supports various backend
// implementations including in-memory, Redis, and relational databases.
package storage

import (
	"context"
	"strconv"
	"time"
)

// Key identifies a TokenRecord. A principal holds at most one record per tenant.
type Key struct {
	PrincipalID string
	TenantID    string
}

// String returns a stable representation used for lock and flight keys.
// Both halves are quoted, so distinct keys never share a representation.
func (k Key) String() string {
	return strconv.Quote(k.TenantID) + "/" + strconv.Quote(k.PrincipalID)
}

// Valid reports whether both halves of the key are set.
func (k Key) Valid() bool {
	return k.PrincipalID != "" && k.TenantID != ""
}

// TokenRecord is the persisted credential set for a (principal, tenant) pair.
// It is also the unit of locking for refreshes.
type TokenRecord struct {
	Key

	// AccessToken is the opaque provider access token
	AccessToken string

	// RefreshToken is optional. Once known it is never replaced by an empty value.
	RefreshToken string

	TokenType string

	// Scope is the space-delimited list of granted scopes
	Scope string

	// ExpiresAt is when the access token stops being valid. Zero means the
	// provider did not state a lifetime.
	ExpiresAt time.Time

	// GoogleAccountEmail is the provider account the principal connected, if known
	GoogleAccountEmail string

	// LastRefreshAt and RefreshCount are diagnostic only.
	LastRefreshAt time.Time
	RefreshCount  int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the record, nil-safe.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// TenantOAuthConfig is the OAuth client a tenant administrator registered.
// Client id and secret are stored encrypted and are opaque to storage.
type TenantOAuthConfig struct {
	TenantID              string
	EncryptedClientID     string
	EncryptedClientSecret string

	// AdminEmail designates the administrative principal of the tenant
	AdminEmail string

	// ProviderDomain is the tenant's hosted domain at the provider (e.g. example.com)
	ProviderDomain string

	UpdatedAt time.Time
}

// Membership links a principal to a tenant.
type Membership struct {
	PrincipalID  string
	TenantID     string
	Email        string
	JoinedAt     time.Time
	LastActiveAt time.Time
}

// TokenStore persists TokenRecords by composite key.
// All methods accept context.Context for tracing and cancellation.
//
// A single Upsert call is atomic. Callers must not assume Upsert is atomic with
// a prior Get unless they serialize on the key themselves.
type TokenStore interface {
	// Get returns the record for key or ErrTokenNotFound
	Get(ctx context.Context, key Key) (*TokenRecord, error)

	// Upsert creates the record or merges it into the existing one following
	// MergeRecord, and returns the stored result.
	Upsert(ctx context.Context, record *TokenRecord) (*TokenRecord, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key Key) error

	// FirstForTenant returns the oldest record of the tenant, or ErrTokenNotFound.
	// Deprecated: only serves the legacy tenant-administrative fallback.
	FirstForTenant(ctx context.Context, tenantID string) (*TokenRecord, error)
}

// TenantStore gives read access to tenant configuration and memberships.
type TenantStore interface {
	// GetOAuthConfig returns the tenant's OAuth client or ErrTenantConfigNotFound
	GetOAuthConfig(ctx context.Context, tenantID string) (*TenantOAuthConfig, error)

	// Membership returns the principal's membership in the tenant or ErrMembershipNotFound
	Membership(ctx context.Context, tenantID, principalID string) (*Membership, error)

	// FindMemberByEmail returns the tenant membership with the given email or ErrMembershipNotFound
	FindMemberByEmail(ctx context.Context, tenantID, email string) (*Membership, error)

	// LatestMembership returns the principal's most recently active membership
	// or ErrMembershipNotFound
	LatestMembership(ctx context.Context, principalID string) (*Membership, error)
}

// RefreshLocker is implemented by stores shared between processes. The returned
// release function must be called once the refresh finished.
type RefreshLocker interface {
	LockRefresh(ctx context.Context, key Key, ttl time.Duration) (release func(context.Context) error, err error)
}

// TenantAdmin is implemented by backends that also own tenant data. The
// credential manager never writes tenant data; administration tools do.
type TenantAdmin interface {
	// SaveOAuthConfig creates or replaces the tenant's OAuth client
	SaveOAuthConfig(ctx context.Context, cfg *TenantOAuthConfig) error

	// SaveMembership creates or replaces a membership
	SaveMembership(ctx context.Context, m *Membership) error
}
