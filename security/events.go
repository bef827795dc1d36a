package security

// Event type constants for security audit logging.
const (
	// Credential lifecycle events

	// EventAuthorizationStarted is logged when a consent URL is issued for a principal
	EventAuthorizationStarted = "authorization_started"

	// EventCredentialConnected is logged when a code exchange produced a stored credential
	EventCredentialConnected = "credential_connected"

	// EventCodeExchangeFailed is logged when the provider rejected an authorization code
	EventCodeExchangeFailed = "code_exchange_failed"

	// EventTokenRefreshed is logged when an access token was refreshed and persisted
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRefreshFailed is logged when the provider rejected a refresh
	EventTokenRefreshFailed = "token_refresh_failed"

	// EventTokenRevoked is logged when a credential was removed locally
	EventTokenRevoked = "token_revoked"

	// EventProviderRevocationFailed is logged when provider-side revocation failed
	// and only the local record was removed
	EventProviderRevocationFailed = "provider_revocation_failed"

	// Suspicious or deprecated paths

	// EventLegacyTenantFallback is logged whenever the first-token-for-tenant fallback is used
	EventLegacyTenantFallback = "legacy_tenant_fallback"

	// EventInvalidState is logged when a callback carried a state that failed validation
	EventInvalidState = "invalid_state"

	// EventStatePrincipalMismatch is logged when a callback state was issued to another principal
	EventStatePrincipalMismatch = "state_principal_mismatch"
)
