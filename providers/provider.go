package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Prompt values understood by AuthOptions
const (
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

// Provider defines the interface for an OAuth identity provider bound to one client.
type Provider interface {
	// Name returns the provider name (e.g., "google")
	Name() string

	// AuthorizationURL generates the consent URL carrying state
	AuthorizationURL(state string, opts *AuthOptions) string

	// ExchangeCode exchanges an authorization code for tokens
	ExchangeCode(ctx context.Context, code string, opts *ExchangeOptions) (*TokenResponse, error)

	// ValidateToken validates an access token and returns user information
	ValidateToken(ctx context.Context, accessToken string) (*UserInfo, error)

	// RefreshToken obtains a new access token using a refresh token.
	// The returned RefreshToken is empty unless the provider rotated it.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)

	// RevokeToken revokes a token at the provider
	RevokeToken(ctx context.Context, token string) error
}

// ClientCredentials identifies the OAuth client a provider acts as
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Factory builds a Provider for one tenant's OAuth client
type Factory func(creds ClientCredentials) (Provider, error)

// AuthOptions customizes the consent URL
type AuthOptions struct {
	// Scopes overrides the provider's configured scopes
	Scopes []string

	// RedirectURI overrides the provider's configured redirect URL
	RedirectURI string

	// Prompt is PromptConsent or PromptSelectAccount
	Prompt string

	// LoginHint pre-selects an account
	LoginHint string

	// HostedDomain restricts the account chooser to a Workspace domain
	HostedDomain string

	// Offline requests a refresh token
	Offline bool

	// IncludeGrantedScopes enables incremental authorization
	IncludeGrantedScopes bool
}

// ExchangeOptions customizes a code exchange
type ExchangeOptions struct {
	// RedirectURI must match the one used for the consent URL when overridden
	RedirectURI string
}

// TokenResponse is the provider's answer to an exchange or refresh
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time

	// Scope is the space-delimited scope the provider granted, when reported
	Scope string

	// IDToken is the raw OIDC id_token, when returned
	IDToken string
}

// UserInfo represents user information from a provider
type UserInfo struct {
	// ID is the unique user identifier from the provider
	ID string

	// Email is the user's email address
	Email string

	// EmailVerified indicates if the email is verified
	EmailVerified bool

	// Name is the user's full name
	Name string

	// HostedDomain is the Workspace domain of the account, if any
	HostedDomain string
}

// RevokeError is returned when the provider rejected a revocation request
type RevokeError struct {
	StatusCode int
	Body       string
}

func (e *RevokeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("token revocation failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("token revocation failed with status %d: %s", e.StatusCode, e.Body)
}

// IsInvalidGrant reports whether err is an OAuth invalid_grant response,
// meaning the refresh token or code is expired, revoked or already used.
func IsInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode == "invalid_grant"
	}
	return false
}

// StatusCode extracts the HTTP status of a provider error, or 0 if unknown
func StatusCode(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	var rv *RevokeError
	if errors.As(err, &rv) {
		return rv.StatusCode
	}
	return 0
}
