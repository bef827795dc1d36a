package credential

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/giantswarm/tenant-oauth/providers"
)

func TestAuthURLBuilder_Build(t *testing.T) {
	tests := []struct {
		name         string
		forceConsent bool
		wantPrompt   string
	}{
		{name: "select account", forceConsent: false, wantPrompt: providers.PromptSelectAccount},
		{name: "forced consent", forceConsent: true, wantPrompt: providers.PromptConsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seedTenant(testTenant)
			env.seedMember(testTenant, testPrincipal, "user-1@acme.example")

			var gotState string
			var gotOpts *providers.AuthOptions
			env.provider.AuthorizationURLFunc = func(state string, opts *providers.AuthOptions) string {
				gotState, gotOpts = state, opts
				return "https://accounts.example/auth?state=" + state
			}

			builder, err := NewAuthURLBuilder(env.deps, AuthURLConfig{
				RedirectURL: testRedirect,
				Scopes:      []string{"openid", "email", "calendar"},
			})
			if err != nil {
				t.Fatalf("NewAuthURLBuilder() error = %v", err)
			}

			url, err := builder.Build(context.Background(), AuthRequest{
				PrincipalID:  testPrincipal,
				TenantID:     testTenant,
				ForceConsent: tt.forceConsent,
				LoginHint:    " User@Acme.Example ",
			})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if !strings.Contains(url, gotState) {
				t.Errorf("Build() = %q, want it to carry the state", url)
			}

			if gotOpts.Prompt != tt.wantPrompt {
				t.Errorf("Prompt = %q, want %q", gotOpts.Prompt, tt.wantPrompt)
			}
			if !gotOpts.Offline || !gotOpts.IncludeGrantedScopes {
				t.Error("consent URL must request offline access and incremental scopes")
			}
			if gotOpts.RedirectURI != testRedirect {
				t.Errorf("RedirectURI = %q, want %q", gotOpts.RedirectURI, testRedirect)
			}
			if gotOpts.HostedDomain != "acme.example" {
				t.Errorf("HostedDomain = %q, want acme.example", gotOpts.HostedDomain)
			}
			if gotOpts.LoginHint != "user@acme.example" {
				t.Errorf("LoginHint = %q, want normalized", gotOpts.LoginHint)
			}
			if len(gotOpts.Scopes) != 3 {
				t.Errorf("Scopes = %v", gotOpts.Scopes)
			}

			creds := env.provider.ClientCredentials()
			if creds.ClientID != testClientID || creds.ClientSecret != testSecret {
				t.Errorf("provider built with %+v, want decrypted tenant client", creds)
			}

			state, err := DecodeState(gotState, env.clock.Now(), DefaultStateMaxAge)
			if err != nil {
				t.Fatalf("DecodeState() error = %v", err)
			}
			if state.PrincipalID != testPrincipal || state.TenantID != testTenant || state.ForceConsent != tt.forceConsent {
				t.Errorf("state = %+v", state)
			}

			if got := env.counter("oauth.authorization.started"); got != 1 {
				t.Errorf("oauth.authorization.started = %d, want 1", got)
			}
		})
	}
}

func TestAuthURLBuilder_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(testTenant)
	env.seedMember(testTenant, testPrincipal, "user-1@acme.example")

	builder, err := NewAuthURLBuilder(env.deps, AuthURLConfig{RedirectURL: testRedirect})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  AuthRequest
		want error
	}{
		{name: "missing principal", req: AuthRequest{TenantID: testTenant}, want: ErrInvalidRequest},
		{name: "missing tenant", req: AuthRequest{PrincipalID: testPrincipal}, want: ErrInvalidRequest},
		{name: "unknown tenant", req: AuthRequest{PrincipalID: testPrincipal, TenantID: "nope"}, want: ErrTenantNotConfigured},
		{name: "not a member", req: AuthRequest{PrincipalID: "outsider", TenantID: testTenant}, want: ErrNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := builder.Build(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewAuthURLBuilder_RequiresRedirect(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewAuthURLBuilder(env.deps, AuthURLConfig{}); err == nil {
		t.Error("NewAuthURLBuilder() without redirect URL should fail")
	}
	if _, err := NewAuthURLBuilder(Dependencies{}, AuthURLConfig{RedirectURL: testRedirect}); err == nil {
		t.Error("NewAuthURLBuilder() without dependencies should fail")
	}
}
