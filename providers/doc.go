// Package providers defines the OAuth provider interface used by the credential
// lifecycle and the types exchanged with it.
//
// A Provider is bound to one OAuth client (client ID and secret). Because each
// tenant brings its own client, callers construct providers on demand through
// a Factory from the tenant's decrypted ClientCredentials.
//
// Implementations are provided in subpackages:
//   - providers/google: Google OAuth 2.0 provider
//   - providers/mock: Mock provider for testing
//
// Example usage:
//
//	factory := google.NewFactory(google.Config{
//	    RedirectURL: "https://app.example.com/oauth/callback",
//	    Scopes:      []string{"openid", "email", "https://www.googleapis.com/auth/drive.readonly"},
//	})
//	provider, err := factory(providers.ClientCredentials{ClientID: id, ClientSecret: secret})
package providers
