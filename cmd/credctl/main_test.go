package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/tenant-oauth/security"
)

// fakeProvider serves the token and revocation endpoints of an OAuth provider
type fakeProvider struct {
	*httptest.Server

	mu      sync.Mutex
	revoked []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	f := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("grant_type") != "authorization_code" || r.FormValue("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "openid email",
		})
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form data", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.revoked = append(f.revoked, r.FormValue("token"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeProvider) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

// run executes credctl with args and returns its standard output
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"credctl", "--env-file", ""}, args...))
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	key, err := security.KeyFromBase64(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestCredentialLifecycle(t *testing.T) {
	provider := newFakeProvider(t)

	key, err := security.GenerateKey()
	require.NoError(t, err)
	t.Setenv(envMasterKey, security.KeyToBase64(key))

	dsn := filepath.Join(t.TempDir(), "credctl.db")
	config := writeFile(t, "credctl.toml", `
[provider]
redirect_url = "http://localhost:8080/oauth/callback"
scopes = ["openid", "email"]
auth_url = "`+provider.URL+`/auth"
token_url = "`+provider.URL+`/token"
revoke_url = "`+provider.URL+`/revoke"

[storage]
backend = "sqlite"
dsn = "`+dsn+`"

[security]
encrypt_tokens_at_rest = true
`)

	cmd := func(args ...string) string {
		t.Helper()
		out, err := run(t, append([]string{"-c", config}, args...)...)
		require.NoError(t, err, "credctl %s", strings.Join(args, " "))
		return out
	}

	cmd("tenant", "set", "--tenant", "acme", "--client-id", "client-id", "--client-secret", "client-secret",
		"--admin-email", "admin@acme.example")
	cmd("member", "add", "--tenant", "acme", "--principal", "user-1", "--email", "user-1@acme.example")

	authURL := strings.TrimSpace(cmd("auth-url", "--tenant", "acme", "--principal", "user-1", "--force-consent"))
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, provider.URL+"/auth", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	out := cmd("connect", "--state", state, "--code", "good-code", "--principal", "user-1")
	assert.Contains(t, out, "principal=user-1 tenant=acme refresh_token=true")

	out = cmd("resolve", "--tenant", "acme", "--principal", "user-1")
	assert.Contains(t, out, "principal=user-1 tenant=acme administrative=false")
	assert.NotContains(t, out, "at-1")

	out = cmd("resolve", "--tenant", "acme", "--principal", "user-1", "--show-token")
	assert.Contains(t, out, "at-1")

	cmd("revoke", "--tenant", "acme", "--principal", "user-1")
	assert.Equal(t, []string{"rt-1"}, provider.revokedTokens())

	_, err = run(t, "-c", config, "resolve", "--tenant", "acme", "--principal", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect")
}

func TestConnect_StateFromOtherPrincipal(t *testing.T) {
	provider := newFakeProvider(t)

	key, err := security.GenerateKey()
	require.NoError(t, err)
	t.Setenv(envMasterKey, security.KeyToBase64(key))

	config := writeFile(t, "credctl.toml", `
[provider]
redirect_url = "http://localhost:8080/oauth/callback"
token_url = "`+provider.URL+`/token"

[storage]
backend = "sqlite"
dsn = "`+filepath.Join(t.TempDir(), "credctl.db")+`"
`)

	_, err = run(t, "-c", config, "tenant", "set", "--tenant", "acme", "--client-id", "id", "--client-secret", "secret")
	require.NoError(t, err)
	_, err = run(t, "-c", config, "member", "add", "--tenant", "acme", "--principal", "user-1")
	require.NoError(t, err)

	authURL, err := run(t, "-c", config, "auth-url", "--tenant", "acme", "--principal", "user-1")
	require.NoError(t, err)
	u, err := url.Parse(strings.TrimSpace(authURL))
	require.NoError(t, err)

	_, err = run(t, "-c", config, "connect", "--state", u.Query().Get("state"), "--code", "good-code", "--principal", "user-2")
	assert.Error(t, err)
}

func TestResolve_RequiresMode(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	t.Setenv(envMasterKey, security.KeyToBase64(key))
	config := writeFile(t, "credctl.toml", `
[provider]
redirect_url = "http://localhost:8080/oauth/callback"
`)

	_, err = run(t, "-c", config, "resolve", "--tenant", "acme")
	assert.ErrorContains(t, err, "one of --principal or --admin is required")

	_, err = run(t, "-c", config, "resolve", "--tenant", "acme", "--admin", "--principal", "user-1")
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestRevoke_LocalRequiresTenant(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	t.Setenv(envMasterKey, security.KeyToBase64(key))
	config := writeFile(t, "credctl.toml", `
[provider]
redirect_url = "http://localhost:8080/oauth/callback"
`)

	_, err = run(t, "-c", config, "revoke", "--principal", "user-1", "--local")
	assert.ErrorContains(t, err, "--local requires --tenant")
}
