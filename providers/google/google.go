package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/providers"
)

const (
	// DefaultRevokeURL is Google's token revocation endpoint
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	// DefaultUserInfoURL is Google's OpenID Connect userinfo endpoint
	DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

	maxErrorBody = 512
)

// Provider implements the providers.Provider interface for Google OAuth.
type Provider struct {
	config      *oauth2.Config
	httpClient  *http.Client
	revokeURL   string
	userInfoURL string
}

// Config holds Google OAuth configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client // Optional custom HTTP client

	// Endpoint overrides, used against emulators and in tests
	AuthURL     string
	TokenURL    string
	RevokeURL   string
	UserInfoURL string
}

// NewProvider creates a new Google OAuth provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = DefaultRevokeURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = DefaultUserInfoURL
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		httpClient:  httpClient,
		revokeURL:   revokeURL,
		userInfoURL: userInfoURL,
	}, nil
}

// NewFactory returns a providers.Factory that builds Google providers from
// base with the tenant's client credentials filled in.
func NewFactory(base Config) providers.Factory {
	return func(creds providers.ClientCredentials) (providers.Provider, error) {
		cfg := base
		cfg.ClientID = creds.ClientID
		cfg.ClientSecret = creds.ClientSecret
		return NewProvider(&cfg)
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "google"
}

// AuthorizationURL generates the Google OAuth consent URL
func (p *Provider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	if opts == nil {
		opts = &providers.AuthOptions{}
	}

	var oauth2Opts []oauth2.AuthCodeOption
	if opts.Offline {
		oauth2Opts = append(oauth2Opts, oauth2.AccessTypeOffline)
	}
	if opts.IncludeGrantedScopes {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("include_granted_scopes", "true"))
	}
	if opts.Prompt != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("prompt", opts.Prompt))
	}
	if opts.LoginHint != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}
	if opts.HostedDomain != "" {
		oauth2Opts = append(oauth2Opts, oauth2.SetAuthURLParam("hd", opts.HostedDomain))
	}

	cfg := *p.config
	if opts.RedirectURI != "" {
		cfg.RedirectURL = opts.RedirectURI
	}
	if len(opts.Scopes) > 0 {
		cfg.Scopes = opts.Scopes
	}
	return cfg.AuthCodeURL(state, oauth2Opts...)
}

// ExchangeCode exchanges an authorization code for tokens
func (p *Provider) ExchangeCode(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
	cfg := *p.config
	if opts != nil && opts.RedirectURI != "" {
		cfg.RedirectURL = opts.RedirectURI
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	return tokenResponse(token), nil
}

// ValidateToken validates an access token by calling Google's userinfo endpoint
func (p *Provider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	// Create HTTP client with the token
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var googleUserInfo struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		HD            string `json:"hd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&googleUserInfo); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	return &providers.UserInfo{
		ID:            googleUserInfo.Sub,
		Email:         googleUserInfo.Email,
		EmailVerified: googleUserInfo.EmailVerified,
		Name:          googleUserInfo.Name,
		HostedDomain:  googleUserInfo.HD,
	}, nil
}

// RefreshToken refreshes an access token.
// The response carries a RefreshToken only when Google rotated it.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tokenSource := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	resp := tokenResponse(newToken)
	// x/oauth2 copies the request refresh token into the response when none was returned
	if resp.RefreshToken == refreshToken {
		resp.RefreshToken = ""
	}
	return resp, nil
}

// RevokeToken revokes a token at Google's revocation endpoint
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &providers.RevokeError{
			StatusCode: resp.StatusCode,
			Body:       util.SafeTruncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}

	return nil
}

func tokenResponse(token *oauth2.Token) *providers.TokenResponse {
	resp := &providers.TokenResponse{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	return resp
}
