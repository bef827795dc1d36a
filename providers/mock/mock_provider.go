// Package mock provides mock implementations of the Provider interface for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/tenant-oauth/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// AuthorizationURLFunc is called when AuthorizationURL() is invoked
	AuthorizationURLFunc func(state string, opts *providers.AuthOptions) string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error)

	// ValidateTokenFunc is called when ValidateToken() is invoked
	ValidateTokenFunc func(ctx context.Context, accessToken string) (*providers.UserInfo, error)

	// RefreshTokenFunc is called when RefreshToken() is invoked
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error)

	// RevokeTokenFunc is called when RevokeToken() is invoked
	RevokeTokenFunc func(ctx context.Context, token string) error

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// Credentials records the client the provider was built for by Factory
	Credentials providers.ClientCredentials

	// mu protects CallCounts and the Func fields
	mu sync.RWMutex
}

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		AuthorizationURLFunc: func(state string, opts *providers.AuthOptions) string {
			prompt := ""
			if opts != nil {
				prompt = opts.Prompt
			}
			return fmt.Sprintf("https://mock.example.com/authorize?state=%s&prompt=%s", state, prompt)
		},
		ExchangeCodeFunc: func(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				ExpiresAt:    time.Now().Add(time.Hour),
				Scope:        "openid email",
			}, nil
		},
		ValidateTokenFunc: func(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
			return &providers.UserInfo{
				ID:            "mock-user-123",
				Email:         "mock@example.com",
				EmailVerified: true,
				Name:          "Mock User",
			}, nil
		},
		RefreshTokenFunc: func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
			return &providers.TokenResponse{
				AccessToken: "new-mock-access-token",
				TokenType:   "Bearer",
				ExpiresAt:   time.Now().Add(time.Hour),
			}, nil
		},
		RevokeTokenFunc: func(ctx context.Context, token string) error {
			return nil
		},
	}
}

// Factory returns a providers.Factory that records the credentials and returns m
func (m *MockProvider) Factory() providers.Factory {
	return func(creds providers.ClientCredentials) (providers.Provider, error) {
		m.mu.Lock()
		m.CallCounts["Factory"]++
		m.Credentials = creds
		m.mu.Unlock()
		return m, nil
	}
}

// SetRefreshTokenFunc replaces RefreshTokenFunc under the lock
func (m *MockProvider) SetRefreshTokenFunc(fn func(ctx context.Context, refreshToken string) (*providers.TokenResponse, error)) {
	m.mu.Lock()
	m.RefreshTokenFunc = fn
	m.mu.Unlock()
}

// SetRevokeTokenFunc replaces RevokeTokenFunc under the lock
func (m *MockProvider) SetRevokeTokenFunc(fn func(ctx context.Context, token string) error) {
	m.mu.Lock()
	m.RevokeTokenFunc = fn
	m.mu.Unlock()
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	// Release the lock before calling the user function, which may call other mock methods
	m.mu.Lock()
	m.CallCounts["Name"]++
	fn := m.NameFunc
	m.mu.Unlock()

	if fn == nil {
		return "mock"
	}
	return fn()
}

// AuthorizationURL generates the URL to redirect users for authentication
func (m *MockProvider) AuthorizationURL(state string, opts *providers.AuthOptions) string {
	m.mu.Lock()
	m.CallCounts["AuthorizationURL"]++
	fn := m.AuthorizationURLFunc
	m.mu.Unlock()
	if fn == nil {
		return "https://mock.example.com/authorize?state=" + state
	}
	return fn(state, opts)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code string, opts *providers.ExchangeOptions) (*providers.TokenResponse, error) {
	m.mu.Lock()
	m.CallCounts["ExchangeCode"]++
	fn := m.ExchangeCodeFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return fn(ctx, code, opts)
}

// ValidateToken validates an access token and returns user information
func (m *MockProvider) ValidateToken(ctx context.Context, accessToken string) (*providers.UserInfo, error) {
	m.mu.Lock()
	m.CallCounts["ValidateToken"]++
	fn := m.ValidateTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("ValidateTokenFunc not configured")
	}
	return fn(ctx, accessToken)
}

// RefreshToken refreshes an expired token using a refresh token
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*providers.TokenResponse, error) {
	m.mu.Lock()
	m.CallCounts["RefreshToken"]++
	fn := m.RefreshTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return fn(ctx, refreshToken)
}

// RevokeToken revokes a token at the provider
func (m *MockProvider) RevokeToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.CallCounts["RevokeToken"]++
	fn := m.RevokeTokenFunc
	m.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return fn(ctx, token)
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ClientCredentials returns the credentials last passed to Factory
func (m *MockProvider) ClientCredentials() providers.ClientCredentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Credentials
}
