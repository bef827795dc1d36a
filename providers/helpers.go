package providers

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/tenant-oauth/instrumentation"
)

// Instrument wraps p so that every provider round trip is traced and counted.
// A nil inst returns p unchanged.
func Instrument(p Provider, inst *instrumentation.Instrumentation) Provider {
	if p == nil || inst == nil {
		return p
	}
	return &instrumentedProvider{
		next:   p,
		tracer: inst.Tracer("provider"),
		inst:   inst,
	}
}

type instrumentedProvider struct {
	next   Provider
	tracer trace.Tracer
	inst   *instrumentation.Instrumentation
}

func (p *instrumentedProvider) Name() string { return p.next.Name() }

func (p *instrumentedProvider) AuthorizationURL(state string, opts *AuthOptions) string {
	return p.next.AuthorizationURL(state, opts)
}

func (p *instrumentedProvider) ExchangeCode(ctx context.Context, code string, opts *ExchangeOptions) (*TokenResponse, error) {
	var resp *TokenResponse
	err := p.observe(ctx, "exchange_code", func(ctx context.Context) error {
		var err error
		resp, err = p.next.ExchangeCode(ctx, code, opts)
		return err
	})
	return resp, err
}

func (p *instrumentedProvider) ValidateToken(ctx context.Context, accessToken string) (*UserInfo, error) {
	var info *UserInfo
	err := p.observe(ctx, "validate_token", func(ctx context.Context) error {
		var err error
		info, err = p.next.ValidateToken(ctx, accessToken)
		return err
	})
	return info, err
}

func (p *instrumentedProvider) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp *TokenResponse
	err := p.observe(ctx, "refresh_token", func(ctx context.Context) error {
		var err error
		resp, err = p.next.RefreshToken(ctx, refreshToken)
		return err
	})
	return resp, err
}

func (p *instrumentedProvider) RevokeToken(ctx context.Context, token string) error {
	return p.observe(ctx, "revoke_token", func(ctx context.Context) error {
		return p.next.RevokeToken(ctx, token)
	})
}

func (p *instrumentedProvider) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	name := p.next.Name()
	ctx, span := p.tracer.Start(ctx, "provider."+name+"."+operation)
	defer span.End()
	instrumentation.AddProviderAttributes(span, name, operation)

	start := time.Now()
	err := fn(ctx)
	durationMs := float64(time.Since(start).Microseconds()) / 1000.0

	status := http.StatusOK
	if err != nil {
		status = StatusCode(err)
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	p.inst.Metrics().RecordProviderAPICall(ctx, name, operation, status, durationMs, err)
	return err
}
