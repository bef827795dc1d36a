package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	tenantoauth "github.com/giantswarm/tenant-oauth"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// session is the state every credential command needs
type session struct {
	logger  *slog.Logger
	store   backend
	manager *tenantoauth.Manager
	close   func() error
}

func openSession(c *cli.Context) (*session, error) {
	cfg, err := loadConfigs(c.String("config"), c.String("env-file"), c.IsSet("config"))
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: cfg.logLevel()}))

	mcfg, err := cfg.managerConfig(logger)
	if err != nil {
		return nil, err
	}

	store, closeFn, err := openBackend(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	manager, err := tenantoauth.New(store, store, mcfg)
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	return &session{
		logger:  logger,
		store:   store,
		manager: manager,
		close:   closeFn,
	}, nil
}

// withSession opens a session, runs fn and closes the session
func withSession(fn func(c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.close(); err != nil {
				s.logger.Warn("Failed to close storage", "error", err)
			}
		}()
		return fn(c, s)
	}
}

func runKeygen(c *cli.Context) error {
	key, err := security.GenerateKey()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, security.KeyToBase64(key))
	return err
}

var runTenantSet = withSession(func(c *cli.Context, s *session) error {
	secret := c.String("client-secret")
	if secret == "" {
		return fmt.Errorf("client secret is required (--client-secret or $CREDCTL_CLIENT_SECRET)")
	}

	sealed, err := s.manager.SealTenantClient(c.String("tenant"), c.String("client-id"), secret)
	if err != nil {
		return err
	}
	sealed.AdminEmail = c.String("admin-email")
	sealed.ProviderDomain = c.String("domain")

	if err := s.store.SaveOAuthConfig(c.Context, sealed); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "tenant %s configured\n", sealed.TenantID)
	return err
})

var runMemberAdd = withSession(func(c *cli.Context, s *session) error {
	m := &storage.Membership{
		PrincipalID:  c.String("principal"),
		TenantID:     c.String("tenant"),
		Email:        c.String("email"),
		LastActiveAt: time.Now(),
	}
	if err := s.store.SaveMembership(c.Context, m); err != nil {
		return err
	}
	_, err := fmt.Fprintf(c.App.Writer, "principal %s added to tenant %s\n", m.PrincipalID, m.TenantID)
	return err
})

var runAuthURL = withSession(func(c *cli.Context, s *session) error {
	url, err := s.manager.AuthorizationURL(c.Context, tenantoauth.AuthRequest{
		PrincipalID:  c.String("principal"),
		TenantID:     c.String("tenant"),
		ForceConsent: c.Bool("force-consent"),
		LoginHint:    c.String("login-hint"),
	})
	if err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintln(c.App.Writer, url)
	return err
})

var runConnect = withSession(func(c *cli.Context, s *session) error {
	record, err := s.manager.Connect(c.Context, c.String("state"), c.String("code"), c.String("principal"))
	if err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintf(c.App.Writer, "connected principal=%s tenant=%s refresh_token=%t scope=%q\n",
		record.PrincipalID, record.TenantID, record.RefreshToken != "", record.Scope)
	return err
})

var runResolve = withSession(func(c *cli.Context, s *session) error {
	var req tenantoauth.Request
	switch {
	case c.Bool("admin") && c.String("principal") != "":
		return fmt.Errorf("--admin and --principal are mutually exclusive")
	case c.Bool("admin"):
		req = tenantoauth.TenantAdministrative(c.String("tenant"))
	case c.String("principal") != "":
		req = tenantoauth.ByPrincipal(c.String("tenant"), c.String("principal"))
	default:
		return fmt.Errorf("one of --principal or --admin is required")
	}

	h, err := s.manager.Resolve(c.Context, req)
	if err != nil {
		return describe(err)
	}

	expiry := "none"
	if !h.Token.Expiry.IsZero() {
		expiry = h.Token.Expiry.UTC().Format(time.RFC3339)
	}
	if _, err := fmt.Fprintf(c.App.Writer, "principal=%s tenant=%s administrative=%t expires=%s scope=%q\n",
		h.PrincipalID, h.TenantID, h.Administrative, expiry, h.Scope); err != nil {
		return err
	}
	if c.Bool("show-token") {
		_, err = fmt.Fprintln(c.App.Writer, h.Token.AccessToken)
	}
	return err
})

var runRevoke = withSession(func(c *cli.Context, s *session) error {
	principal := c.String("principal")
	tenant := c.String("tenant")

	var err error
	switch {
	case c.Bool("local") && tenant == "":
		return fmt.Errorf("--local requires --tenant")
	case c.Bool("local"):
		err = s.manager.Disconnect(c.Context, storage.Key{PrincipalID: principal, TenantID: tenant})
	case tenant != "":
		err = s.manager.RevokeForTenant(c.Context, storage.Key{PrincipalID: principal, TenantID: tenant})
	default:
		err = s.manager.Revoke(c.Context, principal)
	}
	if err != nil {
		return describe(err)
	}
	_, err = fmt.Fprintf(c.App.Writer, "credential of principal %s removed\n", principal)
	return err
})

// describe adds the end-user message to credential errors
func describe(err error) error {
	if tenantoauth.IsConfigurationError(err) || tenantoauth.RequiresReconsent(err) {
		return fmt.Errorf("%w\n%s", err, tenantoauth.UserMessage(err))
	}
	return err
}
