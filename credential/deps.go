package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Dependencies are the collaborators shared by all credential components.
// They are constructed once at process start and passed in explicitly.
type Dependencies struct {
	// Tokens persists TokenRecords (required)
	Tokens storage.TokenStore

	// Tenants gives read access to tenant OAuth clients and memberships (required)
	Tenants storage.TenantStore

	// Codec decrypts the tenant's stored client id and secret (required)
	Codec security.SecretCodec

	// Providers builds a provider client for a tenant's OAuth client (required)
	Providers providers.Factory

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Auditor is optional
	Auditor *security.Auditor

	// Instrumentation defaults to no-op providers
	Instrumentation *instrumentation.Instrumentation

	// Now defaults to time.Now
	Now func() time.Time
}

func (d Dependencies) withDefaults() (Dependencies, error) {
	switch {
	case d.Tokens == nil:
		return d, errors.New("token store is required")
	case d.Tenants == nil:
		return d, errors.New("tenant store is required")
	case d.Codec == nil:
		return d, errors.New("secret codec is required")
	case d.Providers == nil:
		return d, errors.New("provider factory is required")
	}

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Instrumentation == nil {
		d.Instrumentation = instrumentation.Disabled()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d, nil
}

func (d Dependencies) tracer() trace.Tracer {
	return d.Instrumentation.Tracer("credential")
}

func (d Dependencies) metrics() *instrumentation.Metrics {
	return d.Instrumentation.Metrics()
}

// audit records an audit event through fn and counts it
func (d Dependencies) audit(ctx context.Context, eventType string, fn func(a *security.Auditor)) {
	if d.Auditor == nil {
		return
	}
	fn(d.Auditor)
	d.metrics().RecordAuditEvent(ctx, eventType)
}

// requireMembership fails with NotMember unless principalID belongs to tenantID
func (d Dependencies) requireMembership(ctx context.Context, op, tenantID, principalID string) error {
	_, err := d.Tenants.Membership(ctx, tenantID, principalID)
	if errors.Is(err, storage.ErrMembershipNotFound) {
		d.Logger.Warn("Principal is not a member of the tenant",
			"operation", op,
			"tenant_id", tenantID,
			"principal_id", principalID)
		return newError(CodeNotMember, op, tenantID, principalID, err)
	}
	if err != nil {
		return fmt.Errorf("%s: failed to load membership: %w", op, err)
	}
	return nil
}

// tenantClient is a tenant's OAuth configuration with decrypted client credentials
type tenantClient struct {
	tenantID string
	config   *storage.TenantOAuthConfig
	creds    providers.ClientCredentials
}

// loadTenantClient loads and decrypts the tenant's OAuth client
func (d Dependencies) loadTenantClient(ctx context.Context, op, tenantID, principalID string) (*tenantClient, error) {
	cfg, err := d.Tenants.GetOAuthConfig(ctx, tenantID)
	if errors.Is(err, storage.ErrTenantConfigNotFound) {
		return nil, newError(CodeTenantNotConfigured, op, tenantID, principalID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load tenant OAuth config: %w", op, err)
	}

	clientID, err := d.decryptClientField(cfg.EncryptedClientID, "client id")
	if err != nil {
		return nil, newError(CodeClientSecretMissing, op, tenantID, principalID, err)
	}
	clientSecret, err := d.decryptClientField(cfg.EncryptedClientSecret, "client secret")
	if err != nil {
		return nil, newError(CodeClientSecretMissing, op, tenantID, principalID, err)
	}

	return &tenantClient{
		tenantID: tenantID,
		config:   cfg,
		creds: providers.ClientCredentials{
			ClientID:     clientID,
			ClientSecret: clientSecret,
		},
	}, nil
}

func (d Dependencies) decryptClientField(encrypted, field string) (string, error) {
	if encrypted == "" {
		return "", fmt.Errorf("%s is not set", field)
	}
	plain, err := d.Codec.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", field, err)
	}
	if plain == "" {
		return "", fmt.Errorf("%s is empty", field)
	}
	return plain, nil
}

// provider builds an instrumented provider for the tenant client
func (d Dependencies) provider(op string, tc *tenantClient, principalID string) (providers.Provider, error) {
	p, err := d.Providers(tc.creds)
	if err != nil {
		return nil, newError(CodeClientSecretMissing, op, tc.tenantID, principalID, err)
	}
	return providers.Instrument(p, d.Instrumentation), nil
}
