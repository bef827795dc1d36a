// Package credential manages the lifecycle of provider credentials that a
// principal grants inside a tenant: consent, code exchange, resolution,
// refresh and revocation.
//
// Credentials are keyed by (tenant, principal). A Resolver never hands out an
// expired access token: expired records are refreshed by the
// RefreshOrchestrator, which runs at most one refresh per key at a time and
// shares the result with every concurrent caller.
//
//	deps := credential.Dependencies{
//		Tokens:    store,
//		Tenants:   store,
//		Codec:     codec,
//		Providers: google.NewFactory(google.Config{}),
//	}
//	orchestrator, _ := credential.NewRefreshOrchestrator(deps, credential.RefreshConfig{})
//	resolver, _ := credential.NewResolver(deps, orchestrator, credential.ResolverConfig{})
//
//	handle, err := resolver.Resolve(ctx, credential.ByPrincipal(tenantID, userID))
//	if credential.RequiresReconsent(err) {
//		// redirect the user through AuthURLBuilder with ForceConsent
//	}
//	client := handle.Client(ctx)
//
// Failures carry a Code (see Error). Configuration errors must be fixed by a
// tenant administrator; connection errors by the principal reconnecting.
package credential
