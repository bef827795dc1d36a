package credential

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/internal/testutil"
	"github.com/giantswarm/tenant-oauth/providers/mock"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
	"github.com/giantswarm/tenant-oauth/storage/memory"
	storagemock "github.com/giantswarm/tenant-oauth/storage/mock"
)

const (
	testTenant     = "acme"
	testPrincipal  = "user-1"
	testAdmin      = "admin-1"
	testAdminEmail = "admin@acme.example"
	testClientID   = "client-id.apps.example"
	testSecret     = "client-secret"
	testRedirect   = "https://app.example.com/oauth/callback"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv wires the credential components against the memory store and the mock provider
type testEnv struct {
	t        *testing.T
	store    *memory.Store
	provider *mock.MockProvider
	codec    *security.Encryptor
	clock    *testutil.MockTime
	reader   *sdkmetric.ManualReader
	logs     *syncBuffer

	deps         Dependencies
	orchestrator *RefreshOrchestrator
	resolver     *Resolver
	revoker      *Revoker
}

type envOption func(*envOptions)

type envOptions struct {
	resolver ResolverConfig
	refresh  RefreshConfig
}

func withLegacyFallback() envOption {
	return func(o *envOptions) { o.resolver.AllowLegacyTenantFallback = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	codec, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	mp, reader := testutil.NewMeterProvider()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MeterProvider: mp})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	clock := testutil.NewMockTime(testStart)
	store := memory.New()
	store.SetClock(clock.Now)

	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	provider := mock.NewMockProvider()

	env := &testEnv{
		t:        t,
		store:    store,
		provider: provider,
		codec:    codec,
		clock:    clock,
		reader:   reader,
		logs:     logs,
		deps: Dependencies{
			Tokens:          store,
			Tenants:         store,
			Codec:           codec,
			Providers:       provider.Factory(),
			Logger:          logger,
			Auditor:         security.NewAuditor(logger, true),
			Instrumentation: inst,
			Now:             clock.Now,
		},
	}

	env.orchestrator, err = NewRefreshOrchestrator(env.deps, o.refresh)
	if err != nil {
		t.Fatalf("NewRefreshOrchestrator() error = %v", err)
	}
	env.resolver, err = NewResolver(env.deps, env.orchestrator, o.resolver)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	env.revoker, err = NewRevoker(env.deps, env.orchestrator)
	if err != nil {
		t.Fatalf("NewRevoker() error = %v", err)
	}
	return env
}

// seedTenant stores an OAuth client for tenantID with encrypted credentials
func (e *testEnv) seedTenant(tenantID string) {
	e.t.Helper()

	encID, err := e.codec.Encrypt(testClientID)
	if err != nil {
		e.t.Fatal(err)
	}
	encSecret, err := e.codec.Encrypt(testSecret)
	if err != nil {
		e.t.Fatal(err)
	}
	err = e.store.SaveOAuthConfig(context.Background(), &storage.TenantOAuthConfig{
		TenantID:              tenantID,
		EncryptedClientID:     encID,
		EncryptedClientSecret: encSecret,
		AdminEmail:            testAdminEmail,
		ProviderDomain:        "acme.example",
	})
	if err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) seedMember(tenantID, principalID, email string) {
	e.t.Helper()
	err := e.store.SaveMembership(context.Background(), &storage.Membership{
		PrincipalID:  principalID,
		TenantID:     tenantID,
		Email:        email,
		LastActiveAt: e.clock.Now(),
	})
	if err != nil {
		e.t.Fatal(err)
	}
}

// seedRecord stores a credential for (tenantID, principalID) expiring at expiresAt
func (e *testEnv) seedRecord(tenantID, principalID string, expiresAt time.Time) *storage.TokenRecord {
	e.t.Helper()
	stored, err := e.store.Upsert(context.Background(),
		testutil.GenerateTestRecord(storage.Key{TenantID: tenantID, PrincipalID: principalID}, expiresAt))
	if err != nil {
		e.t.Fatal(err)
	}
	return stored
}

func (e *testEnv) record(tenantID, principalID string) *storage.TokenRecord {
	e.t.Helper()
	r, err := e.store.Get(context.Background(), storage.Key{TenantID: tenantID, PrincipalID: principalID})
	if err != nil {
		e.t.Fatalf("Get() error = %v", err)
	}
	return r
}

func (e *testEnv) counter(name string) int64 {
	e.t.Helper()
	return testutil.CounterValue(e.t, e.reader, name)
}

// failingTokenStore holds records but fails every Upsert
func failingTokenStore(records ...*storage.TokenRecord) *storagemock.MockTokenStore {
	tokens := storagemock.NewMockTokenStore()
	for _, r := range records {
		tokens.Put(r)
	}
	tokens.UpsertFunc = func(context.Context, *storage.TokenRecord) (*storage.TokenRecord, error) {
		return nil, errors.New("database unavailable")
	}
	return tokens
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
