package credential

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// ResolverConfig configures credential resolution
type ResolverConfig struct {
	// AllowLegacyTenantFallback lets TenantAdministrative requests use the
	// tenant's oldest credential of any principal when the administrator has
	// not connected. Every use is logged and audited.
	// Deprecated: the fallback acts with an arbitrary member's identity.
	AllowLegacyTenantFallback bool
}

// Resolver answers "give me a valid credential for this identity".
type Resolver struct {
	deps         Dependencies
	orchestrator *RefreshOrchestrator
	cfg          ResolverConfig
}

// NewResolver creates a resolver that refreshes through orchestrator
func NewResolver(deps Dependencies, orchestrator *RefreshOrchestrator, cfg ResolverConfig) (*Resolver, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if orchestrator == nil {
		return nil, errors.New("refresh orchestrator is required")
	}
	return &Resolver{deps: deps, orchestrator: orchestrator, cfg: cfg}, nil
}

// Resolve returns a handle with a fresh access token for req.
//
// Errors: ErrTenantNotConfigured, ErrClientSecretMissing, ErrNotConnected,
// ErrRefreshFailed and ErrInvalidRequest. Storage failures are returned
// wrapped without a code.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Handle, error) {
	const op = "resolve"

	ctx, span := r.deps.tracer().Start(ctx, "credential.resolve")
	defer span.End()
	instrumentation.AddCredentialAttributes(span, req.TenantID(), req.PrincipalID())
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrAdministrative, req.Administrative()))

	mode := instrumentation.ModePrincipal
	if req.Administrative() {
		mode = instrumentation.ModeAdministrative
	}
	fail := func(err error) (*Handle, error) {
		result := instrumentation.ResultFailure
		if errors.Is(err, ErrNotConnected) {
			result = instrumentation.ResultNotConnected
		}
		r.deps.metrics().RecordResolution(ctx, mode, result)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if err := req.validate(); err != nil {
		return fail(newError(CodeInvalidRequest, op, req.TenantID(), req.PrincipalID(), err))
	}

	tc, err := r.deps.loadTenantClient(ctx, op, req.TenantID(), req.PrincipalID())
	if err != nil {
		return fail(err)
	}

	var record *storage.TokenRecord
	if req.Administrative() {
		var served string
		record, served, err = r.loadAdministrative(ctx, op, tc)
		if err == nil {
			mode = served
		}
	} else {
		record, err = r.loadRecord(ctx, op, storage.Key{TenantID: req.TenantID(), PrincipalID: req.PrincipalID()})
	}
	if err != nil {
		return fail(err)
	}

	if record.TenantID != tc.tenantID {
		return fail(fmt.Errorf("%s: store returned credential of tenant %q for tenant %q", op, record.TenantID, tc.tenantID))
	}

	provider, err := r.deps.provider(op, tc, record.PrincipalID)
	if err != nil {
		return fail(err)
	}

	fresh, err := r.orchestrator.Ensure(ctx, provider, record)
	if err != nil {
		return fail(err)
	}
	if fresh.Key != record.Key {
		return fail(fmt.Errorf("%s: refresh returned credential %s for %s", op, fresh.Key, record.Key))
	}

	r.deps.metrics().RecordResolution(ctx, mode, instrumentation.ResultSuccess)
	instrumentation.AddCredentialAttributes(span, "", fresh.PrincipalID)
	instrumentation.SetSpanSuccess(span)

	r.deps.Logger.Debug("Credential resolved",
		"operation", op,
		"tenant_id", fresh.TenantID,
		"principal_id", fresh.PrincipalID,
		"mode", mode)

	return newHandle(r, req, fresh), nil
}

func (r *Resolver) loadRecord(ctx context.Context, op string, key storage.Key) (*storage.TokenRecord, error) {
	record, err := r.deps.Tokens.Get(ctx, key)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil, newError(CodeNotConnected, op, key.TenantID, key.PrincipalID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load credential: %w", op, err)
	}
	return record, nil
}

// loadAdministrative finds the credential of the tenant's administrator and,
// when enabled, falls back to the tenant's oldest credential.
func (r *Resolver) loadAdministrative(ctx context.Context, op string, tc *tenantClient) (*storage.TokenRecord, string, error) {
	var cause error = storage.ErrTokenNotFound

	if email := util.NormalizeEmail(tc.config.AdminEmail); email != "" {
		member, err := r.deps.Tenants.FindMemberByEmail(ctx, tc.tenantID, email)
		switch {
		case err == nil:
			record, err := r.loadRecord(ctx, op, storage.Key{TenantID: tc.tenantID, PrincipalID: member.PrincipalID})
			if err == nil {
				return record, instrumentation.ModeAdministrative, nil
			}
			if !errors.Is(err, ErrNotConnected) {
				return nil, "", err
			}
		case errors.Is(err, storage.ErrMembershipNotFound):
			cause = err
		default:
			return nil, "", fmt.Errorf("%s: failed to look up tenant administrator: %w", op, err)
		}
	} else {
		cause = errors.New("tenant has no administrator email")
	}

	if !r.cfg.AllowLegacyTenantFallback {
		return nil, "", newError(CodeNotConnected, op, tc.tenantID, "", cause)
	}

	record, err := r.deps.Tokens.FirstForTenant(ctx, tc.tenantID)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil, "", newError(CodeNotConnected, op, tc.tenantID, "", err)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: failed to load tenant credential: %w", op, err)
	}

	r.deps.metrics().RecordLegacyFallback(ctx)
	r.deps.audit(ctx, security.EventLegacyTenantFallback, func(a *security.Auditor) {
		a.LogLegacyFallback(tc.tenantID, record.PrincipalID)
	})
	r.deps.Logger.Warn("DEPRECATED: tenant-administrative request served by the first credential of the tenant; connect the tenant administrator",
		"operation", op,
		"tenant_id", tc.tenantID,
		"principal_id", record.PrincipalID)

	return record, instrumentation.ModeLegacy, nil
}
