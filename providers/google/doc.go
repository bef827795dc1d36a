// Package google provides a Google OAuth 2.0 provider implementation.
//
// It implements providers.Provider for Google's authorization server:
//   - Consent URLs with offline access, incremental scopes, login_hint and hd
//   - Authorization code exchange
//   - Token refresh, reporting rotation only when Google issues a new refresh token
//   - Token revocation via Google's revocation endpoint
//   - User info retrieval via the OpenID Connect userinfo endpoint
//
// Every tenant brings its own OAuth client, so providers are usually built
// through NewFactory:
//
//	factory := google.NewFactory(google.Config{
//	    RedirectURL: "https://app.example.com/oauth/callback",
//	    Scopes: []string{
//	        "openid", "email",
//	        "https://www.googleapis.com/auth/drive.readonly",
//	    },
//	})
//
// Endpoint URLs can be overridden, which the tests use to point the provider
// at an httptest server.
package google
