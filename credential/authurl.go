package credential

import (
	"context"
	"fmt"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/security"
)

// AuthURLConfig configures consent URLs
type AuthURLConfig struct {
	// RedirectURL is the callback registered with every tenant's OAuth client (required)
	RedirectURL string

	// Scopes requested on consent; empty uses the provider default
	Scopes []string
}

// AuthRequest describes a consent URL to build
type AuthRequest struct {
	PrincipalID string
	TenantID    string

	// ForceConsent shows the provider's consent screen, which guarantees a
	// refresh token. Required for the first connect and after RefreshFailed.
	ForceConsent bool

	// LoginHint pre-selects the principal's account, optional
	LoginHint string
}

// AuthURLBuilder builds provider consent URLs for a principal within a tenant.
type AuthURLBuilder struct {
	deps Dependencies
	cfg  AuthURLConfig
}

// NewAuthURLBuilder creates a consent URL builder
func NewAuthURLBuilder(deps Dependencies, cfg AuthURLConfig) (*AuthURLBuilder, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	return &AuthURLBuilder{deps: deps, cfg: cfg}, nil
}

// Build returns the consent URL for req. It always requests offline access
// and incremental scopes; the prompt is consent when req.ForceConsent is set
// and select_account otherwise.
func (b *AuthURLBuilder) Build(ctx context.Context, req AuthRequest) (string, error) {
	const op = "build_auth_url"

	ctx, span := b.deps.tracer().Start(ctx, "credential.build_auth_url")
	defer span.End()
	instrumentation.AddCredentialAttributes(span, req.TenantID, req.PrincipalID)

	if req.TenantID == "" || req.PrincipalID == "" {
		err := newError(CodeInvalidRequest, op, req.TenantID, req.PrincipalID,
			fmt.Errorf("principal and tenant are required"))
		instrumentation.RecordError(span, err)
		return "", err
	}

	tc, err := b.deps.loadTenantClient(ctx, op, req.TenantID, req.PrincipalID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}
	if err := b.deps.requireMembership(ctx, op, req.TenantID, req.PrincipalID); err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}
	provider, err := b.deps.provider(op, tc, req.PrincipalID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	state, err := NewAuthorizationState(req.PrincipalID, req.TenantID, req.ForceConsent, b.deps.Now()).Encode()
	if err != nil {
		instrumentation.RecordError(span, err)
		return "", err
	}

	prompt := providers.PromptSelectAccount
	if req.ForceConsent {
		prompt = providers.PromptConsent
	}

	authURL := provider.AuthorizationURL(state, &providers.AuthOptions{
		Scopes:               b.cfg.Scopes,
		RedirectURI:          b.cfg.RedirectURL,
		Prompt:               prompt,
		LoginHint:            util.NormalizeEmail(req.LoginHint),
		HostedDomain:         tc.config.ProviderDomain,
		Offline:              true,
		IncludeGrantedScopes: true,
	})

	b.deps.metrics().RecordAuthorizationStarted(ctx, prompt)
	b.deps.audit(ctx, security.EventAuthorizationStarted, func(a *security.Auditor) {
		a.LogEvent(security.Event{
			Type:        security.EventAuthorizationStarted,
			TenantID:    req.TenantID,
			PrincipalID: req.PrincipalID,
			Details:     map[string]any{"prompt": prompt},
		})
	})
	b.deps.Logger.Debug("Built consent URL",
		"operation", op,
		"tenant_id", req.TenantID,
		"principal_id", req.PrincipalID,
		"prompt", prompt)

	instrumentation.SetSpanSuccess(span)
	return authURL, nil
}
