package tenantoauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/giantswarm/tenant-oauth/credential"
	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/providers"
)

// Config holds the credential manager configuration.
// Structured using composition, one struct per concern.
type Config struct {
	// Provider settings shared by every tenant's OAuth client
	Provider ProviderConfig

	// Refresh tunes the refresh orchestrator
	Refresh credential.RefreshConfig

	// Resolver tunes credential resolution
	Resolver credential.ResolverConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation is optional; nil uses no-op providers
	Instrumentation *instrumentation.Instrumentation

	// Now overrides the clock, for tests
	Now func() time.Time
}

// ProviderConfig holds the provider settings that are the same for all tenants.
// Client id and secret are per tenant and come from storage.
type ProviderConfig struct {
	// RedirectURL is the consent callback registered with every tenant's client (required)
	RedirectURL string

	// Scopes requested on consent. Default: openid, email.
	Scopes []string

	// HTTPClient is used for token, userinfo and revocation requests.
	// Default: 30s timeout client.
	HTTPClient *http.Client

	// Endpoint overrides, used against emulators and in tests
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	UserInfoURL string

	// LookupAccountEmail stores the connected account's email after consent
	LookupAccountEmail bool

	// Factory replaces the Google provider entirely. Endpoint overrides and
	// HTTPClient are ignored when set.
	Factory providers.Factory
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	// MasterKey is the root secret (at least 32 bytes, required). Separate keys
	// for tenant client secrets and tokens at rest are derived from it with HKDF.
	// Generate with security.GenerateKey().
	MasterKey []byte

	// EncryptTokensAtRest makes stores that support it encrypt access and
	// refresh tokens. Default: false, because existing plaintext records
	// would no longer decrypt.
	EncryptTokensAtRest bool

	// EnableAuditLogging enables security audit logging.
	// Principal ids are hashed in audit records.
	EnableAuditLogging bool

	// StateMaxAge bounds how old a consent callback state may be.
	// Default: 15 minutes.
	StateMaxAge time.Duration
}

// applyDefaults fills zero values
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Instrumentation == nil {
		c.Instrumentation = instrumentation.Disabled()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Security.StateMaxAge == 0 {
		c.Security.StateMaxAge = credential.DefaultStateMaxAge
	}
	if c.Refresh.Timeout == 0 {
		c.Refresh.Timeout = credential.DefaultRefreshTimeout
	}
}

// Validate reports configuration errors
func (c *Config) Validate() error {
	if c.Provider.RedirectURL == "" {
		return fmt.Errorf("provider redirect URL is required")
	}
	u, err := url.Parse(c.Provider.RedirectURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("provider redirect URL %q must be an absolute URL", c.Provider.RedirectURL)
	}
	if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		return fmt.Errorf("provider redirect URL must use https outside localhost")
	}
	if len(c.Security.MasterKey) < 32 {
		return fmt.Errorf("master key must be at least 32 bytes, got %d", len(c.Security.MasterKey))
	}
	if c.Security.StateMaxAge < 0 {
		return fmt.Errorf("state max age cannot be negative")
	}
	if c.Refresh.Timeout < 0 {
		return fmt.Errorf("refresh timeout cannot be negative")
	}
	return nil
}
