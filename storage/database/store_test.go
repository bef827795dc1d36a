package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := testNow
	var mu sync.Mutex
	s.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	})
	return s
}

func testRecord(tenant, principal string) *storage.TokenRecord {
	return &storage.TokenRecord{
		Key:          storage.Key{PrincipalID: principal, TenantID: tenant},
		AccessToken:  "access-" + principal,
		RefreshToken: "refresh-" + principal,
		TokenType:    "Bearer",
		Scope:        "openid email",
		ExpiresAt:    testNow.Add(time.Hour),
	}
}

func TestOpen_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing driver", cfg: Config{DSN: ":memory:"}},
		{name: "unknown driver", cfg: Config{Driver: "postgres", DSN: "x"}},
		{name: "missing dsn", cfg: Config{Driver: DriverSQLite}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	got := MySQLDSN("app", "secret", "db.internal", 3306, "oauth")
	assert.Equal(t, "app:secret@tcp(db.internal:3306)/oauth?charset=utf8mb4&parseTime=True&loc=UTC", got)
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, storage.Key{PrincipalID: "user-1", TenantID: "acme"})
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	stored, err := s.Upsert(ctx, testRecord("acme", "user-1"))
	require.NoError(t, err)

	got, err := s.Get(ctx, stored.Key)
	require.NoError(t, err)
	assert.Equal(t, "access-user-1", got.AccessToken)
	assert.Equal(t, "refresh-user-1", got.RefreshToken)
	assert.Equal(t, "Bearer", got.TokenType)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.True(t, got.CreatedAt.Equal(stored.CreatedAt))
	assert.True(t, got.LastRefreshAt.IsZero())
}

func TestStore_UpsertMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, testRecord("acme", "user-1"))
	require.NoError(t, err)

	merged, err := s.Upsert(ctx, &storage.TokenRecord{
		Key:           first.Key,
		AccessToken:   "access-2",
		ExpiresAt:     testNow.Add(2 * time.Hour),
		RefreshCount:  1,
		LastRefreshAt: testNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "refresh-user-1", merged.RefreshToken)
	assert.True(t, merged.CreatedAt.Equal(first.CreatedAt))

	got, err := s.Get(ctx, first.Key)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-user-1", got.RefreshToken)
	assert.Equal(t, "openid email", got.Scope)
	assert.Equal(t, int64(1), got.RefreshCount)
	assert.True(t, got.LastRefreshAt.Equal(testNow))
}

func TestStore_UpsertInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert(context.Background(), &storage.TokenRecord{Key: storage.Key{TenantID: "acme"}})
	assert.ErrorIs(t, err, storage.ErrInvalidRecord)
}

func TestStore_UpsertConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, testRecord("acme", "user-1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, &storage.TokenRecord{
				Key:          storage.Key{PrincipalID: "user-1", TenantID: "acme"},
				AccessToken:  fmt.Sprintf("access-%d", n),
				RefreshCount: int64(n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, storage.Key{PrincipalID: "user-1", TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.RefreshCount)
	assert.Equal(t, "refresh-user-1", got.RefreshToken)
}

func TestStore_Encryption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	enc, err := security.NewEncryptor(key)
	require.NoError(t, err)
	s.SetCodec(enc)

	_, err = s.Upsert(ctx, testRecord("acme", "user-1"))
	require.NoError(t, err)

	var row tokenRecordModel
	require.NoError(t, s.db.Where("principal_id = ?", "user-1").Take(&row).Error)
	assert.NotEqual(t, "access-user-1", row.AccessToken)
	assert.NotEqual(t, "refresh-user-1", row.RefreshToken)

	got, err := s.Get(ctx, storage.Key{PrincipalID: "user-1", TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "access-user-1", got.AccessToken)
	assert.Equal(t, "refresh-user-1", got.RefreshToken)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, err := s.Upsert(ctx, testRecord("acme", "user-1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, stored.Key))
	require.NoError(t, s.Delete(ctx, stored.Key))

	_, err = s.Get(ctx, stored.Key)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_FirstForTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FirstForTenant(ctx, "acme")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	for _, p := range []string{"user-b", "user-a"} {
		_, err := s.Upsert(ctx, testRecord("acme", p))
		require.NoError(t, err)
	}
	_, err = s.Upsert(ctx, testRecord("other", "user-0"))
	require.NoError(t, err)

	first, err := s.FirstForTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "user-b", first.PrincipalID)

	// same creation time falls back to principal order
	same := testNow.Add(-time.Hour)
	for _, p := range []string{"user-z", "user-y"} {
		r := testRecord("globex", p)
		r.CreatedAt = same
		_, err := s.Upsert(ctx, r)
		require.NoError(t, err)
	}
	first, err = s.FirstForTenant(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, "user-y", first.PrincipalID)
}

func TestStore_Upsert_AuditTrailSurvivesExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dead := testRecord("acme", "dead")
	dead.RefreshToken = ""
	dead.RefreshCount = 3
	dead.ExpiresAt = testNow.Add(-48 * time.Hour)
	_, err := s.Upsert(ctx, dead)
	require.NoError(t, err)

	got, err := s.Get(ctx, dead.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.RefreshCount)
	assert.Empty(t, got.RefreshToken)
}

func TestStore_TenantConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOAuthConfig(ctx, "acme")
	assert.ErrorIs(t, err, storage.ErrTenantConfigNotFound)

	require.NoError(t, s.SaveOAuthConfig(ctx, &storage.TenantOAuthConfig{
		TenantID:              "acme",
		EncryptedClientID:     "enc-id",
		EncryptedClientSecret: "enc-secret",
		AdminEmail:            "Admin@Acme.Example",
	}))
	require.NoError(t, s.SaveOAuthConfig(ctx, &storage.TenantOAuthConfig{
		TenantID:              "acme",
		EncryptedClientID:     "enc-id-2",
		EncryptedClientSecret: "enc-secret-2",
		AdminEmail:            "admin@acme.example",
	}))

	cfg, err := s.GetOAuthConfig(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "enc-id-2", cfg.EncryptedClientID)
	assert.Equal(t, "enc-secret-2", cfg.EncryptedClientSecret)
	assert.Equal(t, "admin@acme.example", cfg.AdminEmail)

	assert.Error(t, s.SaveOAuthConfig(ctx, nil))
}

func TestStore_Memberships(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestMembership(ctx, "user-1")
	assert.ErrorIs(t, err, storage.ErrMembershipNotFound)

	require.NoError(t, s.SaveMembership(ctx, &storage.Membership{
		PrincipalID:  "user-1",
		TenantID:     "acme",
		Email:        "User@Acme.Example",
		LastActiveAt: testNow.Add(time.Minute),
	}))
	require.NoError(t, s.SaveMembership(ctx, &storage.Membership{
		PrincipalID:  "user-1",
		TenantID:     "globex",
		Email:        "user@globex.example",
		LastActiveAt: testNow,
	}))

	latest, err := s.LatestMembership(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", latest.TenantID)

	m, err := s.FindMemberByEmail(ctx, "acme", " user@acme.example ")
	require.NoError(t, err)
	assert.Equal(t, "user-1", m.PrincipalID)

	_, err = s.FindMemberByEmail(ctx, "acme", "nobody@acme.example")
	assert.ErrorIs(t, err, storage.ErrMembershipNotFound)

	m, err = s.Membership(ctx, "globex", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user@globex.example", m.Email)

	_, err = s.Membership(ctx, "initech", "user-1")
	assert.ErrorIs(t, err, storage.ErrMembershipNotFound)
}
