package main

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/tenant-oauth/storage"
	"github.com/giantswarm/tenant-oauth/storage/database"
	"github.com/giantswarm/tenant-oauth/storage/memory"
	"github.com/giantswarm/tenant-oauth/storage/redisstore"
)

// backend is a storage backend that owns both credentials and tenant data
type backend interface {
	storage.TokenStore
	storage.TenantStore
	storage.TenantAdmin
}

// openBackend opens the configured storage backend. The returned function
// releases it.
func openBackend(cfg StorageConfigs, logger *slog.Logger) (backend, func() error, error) {
	switch cfg.Backend {
	case backendMemory:
		s := memory.New()
		s.SetLogger(logger)
		return s, func() error { return nil }, nil

	case backendRedis:
		s, err := redisstore.New(redisstore.Config{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case backendMySQL, backendSQLite:
		driver := database.DriverMySQL
		if cfg.Backend == backendSQLite {
			driver = database.DriverSQLite
		}
		s, err := database.Open(database.Config{
			Driver: driver,
			DSN:    cfg.DSN,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
