package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Revoker removes credentials. Provider-side revocation is best effort, the
// local record is always deleted.
type Revoker struct {
	deps         Dependencies
	orchestrator *RefreshOrchestrator
}

// NewRevoker creates a revoker. Revocations are serialized with refresh
// flights of orchestrator so a finishing refresh cannot restore a revoked
// credential.
func NewRevoker(deps Dependencies, orchestrator *RefreshOrchestrator) (*Revoker, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if orchestrator == nil {
		return nil, errors.New("refresh orchestrator is required")
	}
	return &Revoker{deps: deps, orchestrator: orchestrator}, nil
}

// Revoke disconnects principalID from the tenant of its most recent membership.
// A principal without stored credential is not an error.
func (v *Revoker) Revoke(ctx context.Context, principalID string) error {
	const op = "revoke"

	if principalID == "" {
		return newError(CodeInvalidRequest, op, "", "", errors.New("principal id is required"))
	}

	member, err := v.deps.Tenants.LatestMembership(ctx, principalID)
	if err != nil {
		return newError(CodeTenantNotFound, op, "", principalID, err)
	}

	return v.RevokeForTenant(ctx, storage.Key{TenantID: member.TenantID, PrincipalID: principalID})
}

// RevokeForTenant revokes the credential stored under key at the provider
// and deletes it.
func (v *Revoker) RevokeForTenant(ctx context.Context, key storage.Key) error {
	return v.remove(ctx, "revoke", key, true)
}

// Disconnect deletes the credential stored under key without contacting the
// provider, e.g. when the principal left the tenant.
func (v *Revoker) Disconnect(ctx context.Context, key storage.Key) error {
	return v.remove(ctx, "disconnect", key, false)
}

func (v *Revoker) remove(ctx context.Context, op string, key storage.Key, revokeAtProvider bool) error {
	ctx, span := v.deps.tracer().Start(ctx, "credential."+op)
	defer span.End()
	instrumentation.AddCredentialAttributes(span, key.TenantID, key.PrincipalID)

	if !key.Valid() {
		err := newError(CodeInvalidRequest, op, key.TenantID, key.PrincipalID, errors.New("tenant and principal are required"))
		instrumentation.RecordError(span, err)
		return err
	}

	err := v.orchestrator.withKeyLock(ctx, key, func(ctx context.Context) error {
		record, err := v.deps.Tokens.Get(ctx, key)
		if errors.Is(err, storage.ErrTokenNotFound) {
			v.deps.Logger.Debug("No credential to remove",
				"operation", op,
				"tenant_id", key.TenantID,
				"principal_id", key.PrincipalID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: failed to load credential: %w", op, err)
		}

		providerRevoked := false
		if revokeAtProvider {
			providerRevoked = v.revokeAtProvider(ctx, op, record)
		}

		if err := v.deps.Tokens.Delete(ctx, key); err != nil {
			return fmt.Errorf("%s: failed to delete credential: %w", op, err)
		}

		v.deps.metrics().RecordTokenRevocation(ctx, providerRevoked)
		v.deps.audit(ctx, security.EventTokenRevoked, func(a *security.Auditor) {
			a.LogTokenRevoked(key.TenantID, key.PrincipalID, providerRevoked)
		})
		v.deps.Logger.Info("Credential removed",
			"operation", op,
			"tenant_id", key.TenantID,
			"principal_id", key.PrincipalID,
			"provider_revoked", providerRevoked)
		return nil
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}

// revokeAtProvider revokes the refresh token, or the access token when no
// refresh token is stored. It reports whether the provider confirmed.
func (v *Revoker) revokeAtProvider(ctx context.Context, op string, record *storage.TokenRecord) bool {
	token := record.RefreshToken
	if token == "" {
		token = record.AccessToken
	}
	if token == "" {
		return false
	}

	err := func() error {
		tc, err := v.deps.loadTenantClient(ctx, op, record.TenantID, record.PrincipalID)
		if err != nil {
			return err
		}
		provider, err := v.deps.provider(op, tc, record.PrincipalID)
		if err != nil {
			return err
		}
		return provider.RevokeToken(ctx, token)
	}()
	if err == nil {
		return true
	}

	v.deps.audit(ctx, security.EventProviderRevocationFailed, func(a *security.Auditor) {
		a.LogEvent(security.Event{
			Type:        security.EventProviderRevocationFailed,
			TenantID:    record.TenantID,
			PrincipalID: record.PrincipalID,
			Details:     map[string]any{"error": err.Error()},
		})
	})
	v.deps.Logger.Warn("Provider revocation failed, deleting local credential anyway",
		"operation", op,
		"tenant_id", record.TenantID,
		"principal_id", record.PrincipalID,
		"error", err)
	return false
}
