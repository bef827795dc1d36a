package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	tenantoauth "github.com/giantswarm/tenant-oauth"
	"github.com/giantswarm/tenant-oauth/credential"
	"github.com/giantswarm/tenant-oauth/security"
)

// Storage backends
const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendMySQL  = "mysql"
	backendSQLite = "sqlite"
)

// Environment variables that override the config file. Secrets belong here
// or in a .env file rather than in the TOML file.
const (
	envMasterKey     = "CREDCTL_MASTER_KEY"
	envBackend       = "CREDCTL_STORAGE_BACKEND"
	envDSN           = "CREDCTL_STORAGE_DSN"
	envRedisAddress  = "CREDCTL_REDIS_ADDRESS"
	envRedisPassword = "CREDCTL_REDIS_PASSWORD"
	envRedisDB       = "CREDCTL_REDIS_DB"
	envLogLevel      = "CREDCTL_LOG_LEVEL"
)

type Configs struct {
	LogLevel string          `toml:"log_level"`
	Provider ProviderConfigs `toml:"provider"`
	Storage  StorageConfigs  `toml:"storage"`
	Security SecurityConfigs `toml:"security"`
	Refresh  RefreshConfigs  `toml:"refresh"`
	Resolver ResolverConfigs `toml:"resolver"`
}

type ProviderConfigs struct {
	RedirectURL        string   `toml:"redirect_url"`
	Scopes             []string `toml:"scopes"`
	AuthURL            string   `toml:"auth_url"`
	TokenURL           string   `toml:"token_url"`
	RevokeURL          string   `toml:"revoke_url"`
	UserInfoURL        string   `toml:"userinfo_url"`
	LookupAccountEmail bool     `toml:"lookup_account_email"`
}

type StorageConfigs struct {
	Backend       string `toml:"backend"`
	DSN           string `toml:"dsn"`
	RedisAddress  string `toml:"redis_address"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

type SecurityConfigs struct {
	MasterKey           string        `toml:"master_key"`
	EncryptTokensAtRest bool          `toml:"encrypt_tokens_at_rest"`
	AuditLogging        bool          `toml:"audit_logging"`
	StateMaxAge         time.Duration `toml:"state_max_age"`
}

type RefreshConfigs struct {
	Timeout    time.Duration `toml:"timeout"`
	SkewMargin time.Duration `toml:"skew_margin"`
}

type ResolverConfigs struct {
	AllowLegacyTenantFallback bool `toml:"allow_legacy_tenant_fallback"`
}

// loadConfigs reads the optional TOML file, then the optional env file, then
// applies environment overrides. Missing files are not an error for the
// default paths.
func loadConfigs(path, envFile string, pathRequired bool) (*Configs, error) {
	cfg := &Configs{
		LogLevel: "info",
		Storage:  StorageConfigs{Backend: backendMemory},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if pathRequired || !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		// variables already set in the environment win over the file
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
	}

	if v := os.Getenv(envMasterKey); v != "" {
		cfg.Security.MasterKey = v
	}
	if v := os.Getenv(envBackend); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv(envDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(envRedisAddress); v != "" {
		cfg.Storage.RedisAddress = v
	}
	if v := os.Getenv(envRedisPassword); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv(envRedisDB); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s must be a number: %w", envRedisDB, err)
		}
		cfg.Storage.RedisDB = db
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	switch cfg.Storage.Backend {
	case backendMemory, backendRedis, backendMySQL, backendSQLite:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return cfg, nil
}

func (c *Configs) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// managerConfig converts the file configuration into the library configuration
func (c *Configs) managerConfig(logger *slog.Logger) (tenantoauth.Config, error) {
	if c.Security.MasterKey == "" {
		return tenantoauth.Config{}, fmt.Errorf("master key is not set; run `credctl keygen` and export %s", envMasterKey)
	}
	key, err := security.KeyFromBase64(c.Security.MasterKey)
	if err != nil {
		return tenantoauth.Config{}, fmt.Errorf("invalid master key: %w", err)
	}

	return tenantoauth.Config{
		Provider: tenantoauth.ProviderConfig{
			RedirectURL:        c.Provider.RedirectURL,
			Scopes:             c.Provider.Scopes,
			AuthURL:            c.Provider.AuthURL,
			TokenURL:           c.Provider.TokenURL,
			RevokeURL:          c.Provider.RevokeURL,
			UserInfoURL:        c.Provider.UserInfoURL,
			LookupAccountEmail: c.Provider.LookupAccountEmail,
		},
		Refresh: credential.RefreshConfig{
			Timeout:    c.Refresh.Timeout,
			SkewMargin: c.Refresh.SkewMargin,
		},
		Resolver: credential.ResolverConfig{
			AllowLegacyTenantFallback: c.Resolver.AllowLegacyTenantFallback,
		},
		Security: tenantoauth.SecurityConfig{
			MasterKey:           key,
			EncryptTokensAtRest: c.Security.EncryptTokensAtRest,
			EnableAuditLogging:  c.Security.AuditLogging,
			StateMaxAge:         c.Security.StateMaxAge,
		},
		Logger: logger,
	}, nil
}
