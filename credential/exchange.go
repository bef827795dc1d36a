package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// ExchangeConfig configures code exchange
type ExchangeConfig struct {
	// RedirectURL must equal the one used for the consent URL (required)
	RedirectURL string

	// StateMaxAge bounds how old a callback state may be. Default: 15 minutes.
	StateMaxAge time.Duration

	// LookupAccountEmail asks the provider for the connected account's email
	// after the exchange. Failures are logged and do not fail the connect.
	LookupAccountEmail bool
}

// CodeExchanger turns authorization codes into stored credentials.
type CodeExchanger struct {
	deps Dependencies
	cfg  ExchangeConfig
}

// NewCodeExchanger creates a code exchanger
func NewCodeExchanger(deps Dependencies, cfg ExchangeConfig) (*CodeExchanger, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	if cfg.StateMaxAge == 0 {
		cfg.StateMaxAge = DefaultStateMaxAge
	}
	return &CodeExchanger{deps: deps, cfg: cfg}, nil
}

// Exchange trades code for the raw credential set using tenantID's OAuth
// client. Nothing is persisted.
func (x *CodeExchanger) Exchange(ctx context.Context, tenantID, code string) (*providers.TokenResponse, error) {
	resp, _, err := x.exchange(ctx, tenantID, "", code)
	return resp, err
}

func (x *CodeExchanger) exchange(ctx context.Context, tenantID, principalID, code string) (*providers.TokenResponse, providers.Provider, error) {
	const op = "exchange_code"

	ctx, span := x.deps.tracer().Start(ctx, "credential.exchange_code")
	defer span.End()
	instrumentation.AddCredentialAttributes(span, tenantID, principalID)

	if tenantID == "" || code == "" {
		err := newError(CodeInvalidRequest, op, tenantID, principalID, errors.New("tenant and code are required"))
		instrumentation.RecordError(span, err)
		return nil, nil, err
	}

	tc, err := x.deps.loadTenantClient(ctx, op, tenantID, principalID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, nil, err
	}
	provider, err := x.deps.provider(op, tc, principalID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, nil, err
	}

	resp, err := provider.ExchangeCode(ctx, code, &providers.ExchangeOptions{RedirectURI: x.cfg.RedirectURL})
	if err == nil && (resp == nil || resp.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		x.deps.metrics().RecordCodeExchange(ctx, instrumentation.ResultFailure)
		x.deps.audit(ctx, security.EventCodeExchangeFailed, func(a *security.Auditor) {
			a.LogEvent(security.Event{
				Type:        security.EventCodeExchangeFailed,
				TenantID:    tenantID,
				PrincipalID: principalID,
				Details:     map[string]any{"invalid_grant": providers.IsInvalidGrant(err)},
			})
		})
		x.deps.Logger.Warn("Authorization code exchange failed",
			"operation", op,
			"tenant_id", tenantID,
			"principal_id", principalID,
			"error", err)

		xerr := newError(CodeExchangeFailed, op, tenantID, principalID, err)
		instrumentation.RecordError(span, xerr)
		return nil, nil, xerr
	}

	x.deps.metrics().RecordCodeExchange(ctx, instrumentation.ResultSuccess)
	instrumentation.SetSpanSuccess(span)
	return resp, provider, nil
}

// Connect completes the consent callback: it decodes the state, checks that
// it was issued to sessionPrincipalID, exchanges the code and persists the
// credential. The returned record is the stored, merged record.
func (x *CodeExchanger) Connect(ctx context.Context, encodedState, code, sessionPrincipalID string) (*storage.TokenRecord, error) {
	const op = "connect"

	ctx, span := x.deps.tracer().Start(ctx, "credential.connect")
	defer span.End()

	state, err := DecodeState(encodedState, x.deps.Now(), x.cfg.StateMaxAge)
	if err != nil {
		x.deps.audit(ctx, security.EventInvalidState, func(a *security.Auditor) {
			a.LogEvent(security.Event{
				Type:        security.EventInvalidState,
				PrincipalID: sessionPrincipalID,
				Details:     map[string]any{"reason": err.Error()},
			})
		})
		serr := newError(CodeInvalidState, op, "", sessionPrincipalID, err)
		instrumentation.RecordError(span, serr)
		return nil, serr
	}
	instrumentation.AddCredentialAttributes(span, state.TenantID, state.PrincipalID)

	if sessionPrincipalID == "" || state.PrincipalID != sessionPrincipalID {
		x.deps.audit(ctx, security.EventStatePrincipalMismatch, func(a *security.Auditor) {
			a.LogEvent(security.Event{
				Type:        security.EventStatePrincipalMismatch,
				TenantID:    state.TenantID,
				PrincipalID: sessionPrincipalID,
			})
		})
		x.deps.Logger.Warn("Consent callback state issued to another principal",
			"operation", op,
			"tenant_id", state.TenantID)
		serr := newError(CodeInvalidState, op, state.TenantID, sessionPrincipalID,
			errors.New("state was issued to a different principal"))
		instrumentation.RecordError(span, serr)
		return nil, serr
	}

	if err := x.deps.requireMembership(ctx, op, state.TenantID, state.PrincipalID); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	resp, provider, err := x.exchange(ctx, state.TenantID, state.PrincipalID, code)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	record := &storage.TokenRecord{
		Key:          storage.Key{PrincipalID: state.PrincipalID, TenantID: state.TenantID},
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		ExpiresAt:    resp.ExpiresAt,
	}
	if x.cfg.LookupAccountEmail {
		if info, err := provider.ValidateToken(ctx, resp.AccessToken); err != nil {
			x.deps.Logger.Warn("Failed to look up connected account",
				"operation", op,
				"tenant_id", state.TenantID,
				"principal_id", state.PrincipalID,
				"error", err)
		} else {
			record.GoogleAccountEmail = info.Email
		}
	}

	if resp.RefreshToken == "" {
		x.deps.Logger.Warn("Provider issued no refresh token; an existing one is kept, otherwise reconnect with forced consent",
			"operation", op,
			"tenant_id", state.TenantID,
			"principal_id", state.PrincipalID,
			"force_consent", state.ForceConsent)
	}

	stored, err := x.deps.Tokens.Upsert(ctx, record)
	if err != nil {
		err = fmt.Errorf("%s: failed to store credential: %w", op, err)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	x.deps.audit(ctx, security.EventCredentialConnected, func(a *security.Auditor) {
		a.LogCredentialConnected(state.TenantID, state.PrincipalID, stored.Scope, stored.RefreshToken != "")
	})
	x.deps.Logger.Info("Credential connected",
		"operation", op,
		"tenant_id", state.TenantID,
		"principal_id", state.PrincipalID,
		"has_refresh_token", stored.RefreshToken != "")

	instrumentation.SetSpanSuccess(span)
	return stored, nil
}
