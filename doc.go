// Package tenantoauth manages provider OAuth2 credentials on behalf of
// principals acting inside tenants.
//
// Each tenant registers its own OAuth client with the provider. A principal
// connects their provider account through the consent flow; the resulting
// access and refresh tokens are stored per (tenant, principal) and handed out
// fresh on every resolution. Expired credentials are refreshed exactly once no
// matter how many callers ask concurrently, and refresh tokens are never lost.
//
// # Basic Usage
//
//	store := memory.New()
//
//	mgr, err := tenantoauth.New(store, store, tenantoauth.Config{
//		Provider: tenantoauth.ProviderConfig{
//			RedirectURL: "https://crm.example.com/oauth/callback",
//			Scopes:      []string{"openid", "email", "https://www.googleapis.com/auth/calendar"},
//		},
//		Security: tenantoauth.SecurityConfig{
//			MasterKey:          masterKey,
//			EnableAuditLogging: true,
//		},
//	})
//
//	// consent
//	url, err := mgr.AuthorizationURL(ctx, tenantoauth.AuthRequest{
//		PrincipalID:  "user-1",
//		TenantID:     "acme",
//		ForceConsent: true,
//	})
//
//	// callback
//	_, err = mgr.Connect(ctx, r.FormValue("state"), r.FormValue("code"), sessionPrincipal)
//
//	// API calls
//	h, err := mgr.Resolve(ctx, tenantoauth.ByPrincipal("acme", "user-1"))
//	client := h.Client(ctx)
//
// # Errors
//
// Configuration errors (ErrTenantNotConfigured, ErrClientSecretMissing) need a
// tenant administrator. Connection errors (ErrNotConnected, ErrRefreshFailed)
// need the principal to reconnect with ForceConsent; see RequiresReconsent and
// UserMessage.
//
// # Administrative Credentials
//
// TenantAdministrative resolves the credential of the principal whose email is
// the tenant's AdminEmail. The older behavior of picking the first credential
// stored for the tenant is available behind
// Config.Resolver.AllowLegacyTenantFallback and is deprecated: it acts with an
// arbitrary user's identity.
//
// # Storage
//
// Backends live in storage/memory, storage/redisstore and storage/database.
// Tenant configuration and memberships are read-only to the Manager; use
// SealTenantClient with a storage.TenantAdmin to register tenant clients.
package tenantoauth
