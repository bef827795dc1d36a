package credential

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"golang.org/x/oauth2"

	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Handle is a resolved credential. Its token was fresh when Resolve returned.
// Long-running callers should use TokenSource or Client, which resolve again
// once the token expires.
type Handle struct {
	TenantID    string
	PrincipalID string

	// Administrative is true for TenantAdministrative requests, including
	// those served by the legacy fallback
	Administrative bool

	Token        *oauth2.Token
	Scope        string
	AccountEmail string

	resolver *Resolver
}

func newHandle(r *Resolver, req Request, record *storage.TokenRecord) *Handle {
	return &Handle{
		TenantID:       record.TenantID,
		PrincipalID:    record.PrincipalID,
		Administrative: req.Administrative(),
		Token: &oauth2.Token{
			AccessToken: record.AccessToken,
			TokenType:   record.TokenType,
			Expiry:      record.ExpiresAt,
		},
		Scope:        record.Scope,
		AccountEmail: record.GoogleAccountEmail,
		resolver:     r,
	}
}

// HasScope reports whether scope was granted to the credential.
func (h *Handle) HasScope(scope string) bool {
	return slices.Contains(util.ParseScope(h.Scope), scope)
}

// TokenSource returns a token source that hands out the handle's token while
// it is valid and resolves the handle's principal again afterwards. The
// refresh token never leaves the store.
func (h *Handle) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(h.Token, &resolvingSource{ctx: ctx, handle: h})
}

// Client returns an HTTP client authorizing requests with TokenSource.
func (h *Handle) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, h.TokenSource(ctx))
}

type resolvingSource struct {
	ctx    context.Context
	handle *Handle

	mu sync.Mutex
}

func (s *resolvingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the resolved principal is pinned so a legacy fallback cannot switch identities
	next, err := s.handle.resolver.Resolve(s.ctx, ByPrincipal(s.handle.TenantID, s.handle.PrincipalID))
	if err != nil {
		return nil, err
	}
	return next.Token, nil
}
