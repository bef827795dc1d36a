package redisstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "tenantoauth:"

	// Default timeouts for Redis operations
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for tenant and principal ids
	MaxIDLength = 256

	// MaxRecordSize is the maximum size of a serialized credential record (64KB)
	MaxRecordSize = 64 * 1024

	// maxTxRetries bounds optimistic transaction retries under contention
	maxTxRetries = 16
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Username and Password are optional ACL credentials
	Username string
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "tenantoauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s)
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces.
// It implements TokenStore, TenantStore, TenantAdmin and RefreshLocker.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time

	// codec provides optional token encryption at rest
	// Access must be synchronized via codecMu
	codec   security.SecretCodec
	codecMu sync.RWMutex

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.TokenStore    = (*Store)(nil)
	_ storage.TenantStore   = (*Store)(nil)
	_ storage.TenantAdmin   = (*Store)(nil)
	_ storage.RefreshLocker = (*Store)(nil)
)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    cfg.TLS,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(client, cfg.KeyPrefix, cfg.Logger)
	s.logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)
	return s, nil
}

// NewWithClient creates a Store with a pre-configured client.
// This is useful for Sentinel or cluster clients and for testing with miniredis.
func NewWithClient(client redis.UniversalClient, keyPrefix string, logger *slog.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		prefix: keyPrefix,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Info("Redis storage connection closed")
	return err
}

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetClock overrides the time source used for record timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// SetCodec enables encryption of access and refresh tokens at rest.
func (s *Store) SetCodec(codec security.SecretCodec) {
	s.codecMu.Lock()
	defer s.codecMu.Unlock()
	s.codec = codec
	if codec != nil {
		s.logger.Info("Token encryption at rest enabled for Redis storage")
	}
}

func (s *Store) getCodec() security.SecretCodec {
	s.codecMu.RLock()
	defer s.codecMu.RUnlock()
	return s.codec
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Keys
// ============================================================

// Identifiers are length prefixed ("4:acme") so a separator inside an id
// cannot make two different keys collide.
func idPart(id string) string {
	return strconv.Itoa(len(id)) + ":" + id
}

func (s *Store) tokenKey(key storage.Key) string {
	return s.prefix + "token:" + idPart(key.TenantID) + ":" + idPart(key.PrincipalID)
}

// tenantTokensKey is a sorted set of the tenant's principals scored by record creation time
func (s *Store) tenantTokensKey(tenantID string) string {
	return s.prefix + "tenant:" + idPart(tenantID) + ":tokens"
}

func (s *Store) tenantConfigKey(tenantID string) string {
	return s.prefix + "tenant:" + idPart(tenantID) + ":config"
}

// tenantMembersKey is a hash of email -> principal id
func (s *Store) tenantMembersKey(tenantID string) string {
	return s.prefix + "tenant:" + idPart(tenantID) + ":members"
}

// membershipKey is a hash of tenant id -> membership JSON
func (s *Store) membershipKey(principalID string) string {
	return s.prefix + "membership:" + idPart(principalID)
}

func (s *Store) lockKey(key storage.Key) string {
	return s.prefix + "lock:" + idPart(key.TenantID) + ":" + idPart(key.PrincipalID)
}

func validateID(value, name string) error {
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s: %w", name, errInputTooLarge)
	}
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "redis"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
