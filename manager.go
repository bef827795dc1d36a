package tenantoauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/tenant-oauth/credential"
	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/providers/google"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Request selects whose credential to resolve
type Request = credential.Request

// Handle is a resolved, fresh credential
type Handle = credential.Handle

// AuthRequest describes a consent URL to build
type AuthRequest = credential.AuthRequest

// ByPrincipal resolves the credential the principal connected within the tenant.
func ByPrincipal(tenantID, principalID string) Request {
	return credential.ByPrincipal(tenantID, principalID)
}

// TenantAdministrative resolves the tenant administrator's credential.
func TenantAdministrative(tenantID string) Request {
	return credential.TenantAdministrative(tenantID)
}

// codecSetter is implemented by stores that can encrypt tokens at rest
type codecSetter interface {
	SetCodec(codec security.SecretCodec)
}

// instrumentedStore is implemented by stores that emit spans and metrics
type instrumentedStore interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// Manager wires the credential lifecycle components around one token store
// and one tenant store. It is safe for concurrent use; construct one per
// process and share it.
type Manager struct {
	tokens      storage.TokenStore
	tenants     storage.TenantStore
	clientCodec *security.Encryptor
	logger      *slog.Logger

	authURLs     *credential.AuthURLBuilder
	exchanger    *credential.CodeExchanger
	orchestrator *credential.RefreshOrchestrator
	resolver     *credential.Resolver
	revoker      *credential.Revoker
}

// New creates a Manager. tokens and tenants may be the same backend.
func New(tokens storage.TokenStore, tenants storage.TenantStore, cfg Config) (*Manager, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant store is required")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clientCodec, err := security.NewEncryptorForPurpose(cfg.Security.MasterKey, security.PurposeClientSecrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create client secret codec: %w", err)
	}

	if cfg.Security.EncryptTokensAtRest {
		setter, ok := tokens.(codecSetter)
		if !ok {
			return nil, fmt.Errorf("token store %T does not support encryption at rest", tokens)
		}
		tokenCodec, err := security.NewEncryptorForPurpose(cfg.Security.MasterKey, security.PurposeTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create token codec: %w", err)
		}
		setter.SetCodec(tokenCodec)
	}

	if s, ok := tokens.(instrumentedStore); ok {
		s.SetInstrumentation(cfg.Instrumentation)
	}
	if s, ok := tenants.(instrumentedStore); ok && !sameStore(tokens, tenants) {
		s.SetInstrumentation(cfg.Instrumentation)
	}

	factory := cfg.Provider.Factory
	if factory == nil {
		factory = google.NewFactory(google.Config{
			RedirectURL: cfg.Provider.RedirectURL,
			Scopes:      cfg.Provider.Scopes,
			HTTPClient:  cfg.Provider.HTTPClient,
			AuthURL:     cfg.Provider.AuthURL,
			TokenURL:    cfg.Provider.TokenURL,
			RevokeURL:   cfg.Provider.RevokeURL,
			UserInfoURL: cfg.Provider.UserInfoURL,
		})
	}

	deps := credential.Dependencies{
		Tokens:          tokens,
		Tenants:         tenants,
		Codec:           clientCodec,
		Providers:       factory,
		Logger:          cfg.Logger,
		Auditor:         security.NewAuditor(cfg.Logger, cfg.Security.EnableAuditLogging),
		Instrumentation: cfg.Instrumentation,
		Now:             cfg.Now,
	}

	m := &Manager{
		tokens:      tokens,
		tenants:     tenants,
		clientCodec: clientCodec,
		logger:      cfg.Logger,
	}

	if m.authURLs, err = credential.NewAuthURLBuilder(deps, credential.AuthURLConfig{
		RedirectURL: cfg.Provider.RedirectURL,
		Scopes:      cfg.Provider.Scopes,
	}); err != nil {
		return nil, err
	}
	if m.exchanger, err = credential.NewCodeExchanger(deps, credential.ExchangeConfig{
		RedirectURL:        cfg.Provider.RedirectURL,
		StateMaxAge:        cfg.Security.StateMaxAge,
		LookupAccountEmail: cfg.Provider.LookupAccountEmail,
	}); err != nil {
		return nil, err
	}
	if m.orchestrator, err = credential.NewRefreshOrchestrator(deps, cfg.Refresh); err != nil {
		return nil, err
	}
	if m.resolver, err = credential.NewResolver(deps, m.orchestrator, cfg.Resolver); err != nil {
		return nil, err
	}
	if m.revoker, err = credential.NewRevoker(deps, m.orchestrator); err != nil {
		return nil, err
	}

	if cfg.Resolver.AllowLegacyTenantFallback {
		cfg.Logger.Warn("DEPRECATED: legacy first-credential-for-tenant fallback is enabled")
	}
	cfg.Logger.Info("Credential manager initialized",
		"encrypt_tokens_at_rest", cfg.Security.EncryptTokensAtRest,
		"audit_logging", cfg.Security.EnableAuditLogging)

	return m, nil
}

func sameStore(tokens storage.TokenStore, tenants storage.TenantStore) bool {
	t, ok := tenants.(storage.TokenStore)
	return ok && t == tokens
}

// AuthorizationURL returns the consent URL for req
func (m *Manager) AuthorizationURL(ctx context.Context, req AuthRequest) (string, error) {
	return m.authURLs.Build(ctx, req)
}

// Exchange trades an authorization code for tokens without storing them
func (m *Manager) Exchange(ctx context.Context, tenantID, code string) (*providers.TokenResponse, error) {
	return m.exchanger.Exchange(ctx, tenantID, code)
}

// Connect completes the consent callback and stores the credential
func (m *Manager) Connect(ctx context.Context, state, code, sessionPrincipalID string) (*storage.TokenRecord, error) {
	return m.exchanger.Connect(ctx, state, code, sessionPrincipalID)
}

// Resolve returns a fresh credential for req, refreshing it if needed
func (m *Manager) Resolve(ctx context.Context, req Request) (*Handle, error) {
	return m.resolver.Resolve(ctx, req)
}

// Revoke removes the principal's credential for their most recently active tenant
func (m *Manager) Revoke(ctx context.Context, principalID string) error {
	return m.revoker.Revoke(ctx, principalID)
}

// RevokeForTenant removes the credential stored under key and revokes it at the provider
func (m *Manager) RevokeForTenant(ctx context.Context, key storage.Key) error {
	return m.revoker.RevokeForTenant(ctx, key)
}

// Disconnect removes the credential stored under key without contacting the provider
func (m *Manager) Disconnect(ctx context.Context, key storage.Key) error {
	return m.revoker.Disconnect(ctx, key)
}

// SealTenantClient encrypts a tenant's OAuth client for storage. The result
// is what administration tools pass to storage.TenantAdmin.SaveOAuthConfig.
func (m *Manager) SealTenantClient(tenantID, clientID, clientSecret string) (*storage.TenantOAuthConfig, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("tenant id, client id and client secret are required")
	}
	encID, err := m.clientCodec.Encrypt(clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt client id: %w", err)
	}
	encSecret, err := m.clientCodec.Encrypt(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt client secret: %w", err)
	}
	return &storage.TenantOAuthConfig{
		TenantID:              tenantID,
		EncryptedClientID:     encID,
		EncryptedClientSecret: encSecret,
	}, nil
}
