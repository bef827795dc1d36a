package credential

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

func TestRevoker_Revoke(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedMember(testTenant, testPrincipal, "user@acme.example")
	record := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(time.Hour))

	var revoked string
	env.provider.SetRevokeTokenFunc(func(_ context.Context, token string) error {
		revoked = token
		return nil
	})

	if err := env.revoker.Revoke(context.Background(), testPrincipal); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if revoked != record.RefreshToken {
		t.Errorf("revoked %q, want the refresh token", revoked)
	}
	if _, err := env.store.Get(context.Background(), record.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("record should be deleted, Get() error = %v", err)
	}
	if got := env.counter("oauth.token.revoked"); got != 1 {
		t.Errorf("oauth.token.revoked = %d, want 1", got)
	}
}

func TestRevoker_Revoke_ProviderFailureStillDeletes(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedMember(testTenant, testPrincipal, "user@acme.example")
	record := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(time.Hour))

	env.provider.SetRevokeTokenFunc(func(context.Context, string) error {
		return &providers.RevokeError{StatusCode: 500, Body: "internal error"}
	})

	if err := env.revoker.Revoke(context.Background(), testPrincipal); err != nil {
		t.Fatalf("Revoke() error = %v, provider failures must not fail revocation", err)
	}
	if _, err := env.store.Get(context.Background(), record.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("record should be deleted, Get() error = %v", err)
	}
	if !strings.Contains(env.logs.String(), "event_type="+security.EventProviderRevocationFailed) {
		t.Error("expected provider_revocation_failed audit event")
	}
}

func TestRevoker_Revoke_AccessTokenWhenNoRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedMember(testTenant, testPrincipal, "user@acme.example")
	if _, err := env.store.Upsert(context.Background(), &storage.TokenRecord{
		Key:         storage.Key{TenantID: testTenant, PrincipalID: testPrincipal},
		AccessToken: "only-access",
	}); err != nil {
		t.Fatal(err)
	}

	var revoked string
	env.provider.SetRevokeTokenFunc(func(_ context.Context, token string) error {
		revoked = token
		return nil
	})

	if err := env.revoker.Revoke(context.Background(), testPrincipal); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if revoked != "only-access" {
		t.Errorf("revoked %q, want only-access", revoked)
	}
}

func TestRevoker_Revoke_TenantNotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.revoker.Revoke(context.Background(), testPrincipal)
	if !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("Revoke() error = %v, want ErrTenantNotFound", err)
	}
}

func TestRevoker_Revoke_NothingStored(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedMember(testTenant, testPrincipal, "user@acme.example")

	if err := env.revoker.Revoke(context.Background(), testPrincipal); err != nil {
		t.Errorf("Revoke() error = %v, want nil", err)
	}
	if n := env.provider.GetCallCount("RevokeToken"); n != 0 {
		t.Errorf("RevokeToken called %d times, want 0", n)
	}
}

func TestRevoker_Revoke_UsesLatestMembership(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedTenant("globex")
	env.seedMember(testTenant, testPrincipal, "user@acme.example")
	env.clock.Advance(time.Hour)
	env.seedMember("globex", testPrincipal, "user@acme.example")

	acme := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(time.Hour))
	globex := env.seedRecord("globex", testPrincipal, env.clock.Now().Add(time.Hour))

	if err := env.revoker.Revoke(context.Background(), testPrincipal); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := env.store.Get(context.Background(), globex.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("credential of the most recent tenant should be deleted")
	}
	if _, err := env.store.Get(context.Background(), acme.Key); err != nil {
		t.Errorf("credential of the other tenant should be kept: %v", err)
	}
}

func TestRevoker_RevokeForTenant_TenantMisconfigured(t *testing.T) {
	env := newTestEnv(t)
	record := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(time.Hour))

	// no tenant OAuth client: the provider cannot be called, the record still goes
	if err := env.revoker.RevokeForTenant(context.Background(), record.Key); err != nil {
		t.Fatalf("RevokeForTenant() error = %v", err)
	}
	if _, err := env.store.Get(context.Background(), record.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("record should be deleted")
	}
}

func TestRevoker_Disconnect(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	record := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(time.Hour))

	if err := env.revoker.Disconnect(context.Background(), record.Key); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if n := env.provider.GetCallCount("RevokeToken"); n != 0 {
		t.Errorf("RevokeToken called %d times, want 0", n)
	}
	if _, err := env.store.Get(context.Background(), record.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("record should be deleted")
	}
}

func TestRevoker_InvalidKey(t *testing.T) {
	env := newTestEnv(t)

	if err := env.revoker.RevokeForTenant(context.Background(), storage.Key{TenantID: testTenant}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("RevokeForTenant() error = %v, want ErrInvalidRequest", err)
	}
	if err := env.revoker.Revoke(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Revoke() error = %v, want ErrInvalidRequest", err)
	}
}

func TestRevoker_WaitsForRefreshFlight(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	record := env.seedRecord(testTenant, testPrincipal, env.clock.Now().Add(-time.Second))

	entered := make(chan struct{})
	gate := make(chan struct{})
	env.provider.SetRefreshTokenFunc(func(context.Context, string) (*providers.TokenResponse, error) {
		close(entered)
		<-gate
		return &providers.TokenResponse{AccessToken: "refreshed", ExpiresAt: env.clock.Now().Add(time.Hour)}, nil
	})

	refreshDone := make(chan error, 1)
	go func() {
		_, err := env.resolver.Resolve(context.Background(), ByPrincipal(testTenant, testPrincipal))
		refreshDone <- err
	}()
	<-entered

	revokeDone := make(chan error, 1)
	go func() { revokeDone <- env.revoker.Disconnect(context.Background(), record.Key) }()

	select {
	case err := <-revokeDone:
		t.Fatalf("Disconnect() returned %v while a refresh was in flight", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	if err := <-refreshDone; err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := <-revokeDone; err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	// the refresh finished first, the revocation removed its result
	if _, err := env.store.Get(context.Background(), record.Key); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("record should be deleted after the refresh completed")
	}
}
