package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/providers"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

const (
	// DefaultRefreshTimeout bounds one refresh flight
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultLockRetryInterval is how often a flight polls a lock held by another process
	DefaultLockRetryInterval = 100 * time.Millisecond

	lockRetryJitterPercent = 20
)

// RefreshConfig configures the refresh orchestrator
type RefreshConfig struct {
	// SkewMargin treats tokens expiring within the margin as expired.
	// Default: security.DefaultClockSkewMargin. Negative disables the margin.
	SkewMargin time.Duration

	// Timeout bounds a refresh flight, independent of the callers' contexts.
	// Default: 30 seconds.
	Timeout time.Duration

	// LockRetryInterval applies when the token store implements
	// storage.RefreshLocker and another process holds the lock.
	LockRetryInterval time.Duration
}

// RefreshOrchestrator hands out fresh TokenRecords, refreshing expired ones
// at most once per key at a time.
//
// Concurrent callers for the same key share one flight: only the first
// caller talks to the provider, the others wait for its result or for their
// own context. Different keys refresh in parallel.
type RefreshOrchestrator struct {
	deps   Dependencies
	cfg    RefreshConfig
	group  singleflight.Group
	locks  *keyLocks
	locker storage.RefreshLocker
}

// NewRefreshOrchestrator creates a refresh orchestrator
func NewRefreshOrchestrator(deps Dependencies, cfg RefreshConfig) (*RefreshOrchestrator, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.SkewMargin == 0 {
		cfg.SkewMargin = security.DefaultClockSkewMargin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRefreshTimeout
	}
	if cfg.LockRetryInterval <= 0 {
		cfg.LockRetryInterval = DefaultLockRetryInterval
	}

	o := &RefreshOrchestrator{
		deps:  deps,
		cfg:   cfg,
		locks: newKeyLocks(),
	}
	if locker, ok := deps.Tokens.(storage.RefreshLocker); ok {
		o.locker = locker
	}
	return o, nil
}

// IsFresh reports whether record can be handed out without a refresh.
// Records without an expiry are fresh as long as they carry an access token.
func (o *RefreshOrchestrator) IsFresh(record *storage.TokenRecord) bool {
	if record == nil || record.AccessToken == "" {
		return false
	}
	return !security.IsExpired(record.ExpiresAt, o.deps.Now(), o.cfg.SkewMargin)
}

// Ensure returns record unchanged when it is fresh. Otherwise it refreshes
// the credential through provider, persists the result and returns the
// stored record. On failure the stored record is left untouched.
func (o *RefreshOrchestrator) Ensure(ctx context.Context, provider providers.Provider, record *storage.TokenRecord) (*storage.TokenRecord, error) {
	if record == nil {
		return nil, newError(CodeNotConnected, "refresh", "", "", storage.ErrTokenNotFound)
	}
	if o.IsFresh(record) {
		return record, nil
	}

	key := record.Key
	ctx, span := o.deps.tracer().Start(ctx, "credential.ensure_fresh")
	defer span.End()
	instrumentation.AddCredentialAttributes(span, key.TenantID, key.PrincipalID)

	ran := false
	ch := o.group.DoChan(key.String(), func() (any, error) {
		ran = true
		return o.refresh(ctx, provider, key)
	})

	select {
	case res := <-ch:
		shared := !ran
		if shared {
			o.deps.metrics().RecordRefreshShared(ctx)
		}
		if res.Err != nil {
			instrumentation.RecordError(span, res.Err)
			return nil, res.Err
		}
		stored := res.Val.(*storage.TokenRecord).Clone()
		instrumentation.AddRefreshAttributes(span, shared, false, stored.RefreshCount)
		instrumentation.SetSpanSuccess(span)
		return stored, nil
	case <-ctx.Done():
		err := fmt.Errorf("refresh: stopped waiting for token refresh: %w", ctx.Err())
		instrumentation.RecordError(span, err)
		return nil, err
	}
}

// refresh is the body of a flight. It runs detached from the first caller's
// cancellation, bounded by cfg.Timeout.
func (o *RefreshOrchestrator) refresh(callerCtx context.Context, provider providers.Provider, key storage.Key) (*storage.TokenRecord, error) {
	const op = "refresh"

	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	observe := func(result string, rotated bool) {
		o.deps.metrics().RecordRefresh(ctx, result, rotated, float64(time.Since(start).Microseconds())/1000.0)
	}

	unlock, err := o.locks.lock(ctx, key.String())
	if err != nil {
		return nil, newError(CodeRefreshFailed, op, key.TenantID, key.PrincipalID, err)
	}
	defer unlock()

	if o.locker != nil {
		release, current, err := o.acquireDistributed(ctx, key)
		if err != nil {
			return nil, err
		}
		if current != nil {
			// another process refreshed while we waited
			return current, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				o.deps.Logger.Warn("Failed to release refresh lock",
					"operation", op,
					"tenant_id", key.TenantID,
					"principal_id", key.PrincipalID,
					"error", err)
			}
		}()
	}

	current, err := o.deps.Tokens.Get(ctx, key)
	if errors.Is(err, storage.ErrTokenNotFound) {
		return nil, newError(CodeNotConnected, op, key.TenantID, key.PrincipalID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to reload credential: %w", op, err)
	}
	if o.IsFresh(current) {
		return current, nil
	}

	if current.RefreshToken == "" {
		observe(instrumentation.ResultNoRefreshToken, false)
		o.deps.audit(ctx, security.EventTokenRefreshFailed, func(a *security.Auditor) {
			a.LogTokenRefreshFailed(key.TenantID, key.PrincipalID, "no_refresh_token")
		})
		o.deps.Logger.Warn("Credential expired and has no refresh token",
			"operation", op,
			"tenant_id", key.TenantID,
			"principal_id", key.PrincipalID)
		return nil, newError(CodeRefreshFailed, op, key.TenantID, key.PrincipalID, ErrNoRefreshToken)
	}

	resp, err := provider.RefreshToken(ctx, current.RefreshToken)
	if err == nil && (resp == nil || resp.AccessToken == "") {
		err = errors.New("provider returned no access token")
	}
	if err != nil {
		reason := "provider_error"
		if providers.IsInvalidGrant(err) {
			reason = "invalid_grant"
		}
		observe(instrumentation.ResultFailure, false)
		o.deps.audit(ctx, security.EventTokenRefreshFailed, func(a *security.Auditor) {
			a.LogTokenRefreshFailed(key.TenantID, key.PrincipalID, reason)
		})
		o.deps.Logger.Warn("Token refresh failed",
			"operation", op,
			"tenant_id", key.TenantID,
			"principal_id", key.PrincipalID,
			"reason", reason,
			"error", err)
		return nil, newError(CodeRefreshFailed, op, key.TenantID, key.PrincipalID, err)
	}

	now := o.deps.Now()
	rotated := resp.RefreshToken != "" && resp.RefreshToken != current.RefreshToken
	stored, err := o.deps.Tokens.Upsert(ctx, &storage.TokenRecord{
		Key:           key,
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		TokenType:     resp.TokenType,
		Scope:         resp.Scope,
		ExpiresAt:     resp.ExpiresAt,
		LastRefreshAt: now,
		RefreshCount:  current.RefreshCount + 1,
	})
	if err != nil {
		observe(instrumentation.ResultFailure, rotated)
		o.deps.Logger.Error("Failed to store refreshed credential",
			"operation", op,
			"tenant_id", key.TenantID,
			"principal_id", key.PrincipalID,
			"rotated", rotated,
			"error", err)
		return nil, fmt.Errorf("%s: failed to store refreshed credential: %w", op, err)
	}

	observe(instrumentation.ResultSuccess, rotated)
	o.deps.audit(ctx, security.EventTokenRefreshed, func(a *security.Auditor) {
		a.LogTokenRefreshed(key.TenantID, key.PrincipalID, rotated, stored.RefreshCount)
	})
	o.deps.Logger.Info("Token refreshed",
		"operation", op,
		"tenant_id", key.TenantID,
		"principal_id", key.PrincipalID,
		"rotated", rotated,
		"refresh_count", stored.RefreshCount)

	return stored, nil
}

// acquireDistributed takes the store's cross-process refresh lock. When
// another process holds it, it retries with a jittered constant backoff until
// the lock frees up or the record turns fresh; in the latter case the fresh
// record is returned instead.
func (o *RefreshOrchestrator) acquireDistributed(ctx context.Context, key storage.Key) (func(context.Context) error, *storage.TokenRecord, error) {
	var (
		release func(context.Context) error
		current *storage.TokenRecord
	)

	backoff := retry.WithJitterPercent(lockRetryJitterPercent, retry.NewConstant(o.cfg.LockRetryInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := o.locker.LockRefresh(ctx, key, o.cfg.Timeout)
		if err == nil {
			release = r
			return nil
		}
		if !errors.Is(err, storage.ErrLockNotAcquired) {
			return fmt.Errorf("refresh: failed to acquire refresh lock: %w", err)
		}

		if record, gerr := o.deps.Tokens.Get(ctx, key); gerr == nil && o.IsFresh(record) {
			current = record
			return nil
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, newError(CodeRefreshFailed, "refresh", key.TenantID, key.PrincipalID, ctxErr)
		}
		return nil, nil, err
	}
	return release, current, nil
}

// withKeyLock runs fn while no refresh flight for key is running in this process.
func (o *RefreshOrchestrator) withKeyLock(ctx context.Context, key storage.Key, fn func(context.Context) error) error {
	unlock, err := o.locks.lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}
