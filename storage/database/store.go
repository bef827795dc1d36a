package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/giantswarm/tenant-oauth/instrumentation"
	"github.com/giantswarm/tenant-oauth/internal/util"
	"github.com/giantswarm/tenant-oauth/security"
	"github.com/giantswarm/tenant-oauth/storage"
)

// Supported drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

const (
	// DefaultMaxOpenConns is the connection pool size for MySQL
	DefaultMaxOpenConns = 10

	// DefaultConnMaxLifetime recycles pooled connections
	DefaultConnMaxLifetime = 30 * time.Minute
)

// Config holds configuration for the SQL storage backend.
type Config struct {
	// Driver is "mysql" or "sqlite" (required)
	Driver string

	// DSN is the data source name. For sqlite this is a file path or ":memory:".
	// See MySQLDSN for the mysql format.
	DSN string

	// MaxOpenConns limits the pool (default 10 for mysql, always 1 for sqlite)
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections (default 30m)
	ConnMaxLifetime time.Duration

	// Debug logs every SQL statement through gorm's logger
	Debug bool

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// MySQLDSN builds a MySQL DSN that stores times in UTC.
func MySQLDSN(user, password, host string, port int, dbName string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		user, password, host, port, dbName)
}

// Store is a gorm-backed implementation of the storage interfaces.
// It implements TokenStore, TenantStore and TenantAdmin.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
	driver string

	codec   security.SecretCodec
	codecMu sync.RWMutex

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.TenantStore = (*Store)(nil)
	_ storage.TenantAdmin = (*Store)(nil)
)

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL:
		dialector = mysql.New(mysql.Config{
			DSN:               cfg.DSN,
			DefaultStringSize: 255,
		})
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case "":
		return nil, fmt.Errorf("database driver is required")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	logLevel := gormlogger.Silent
	if cfg.Debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	if cfg.Driver == DriverSQLite {
		// one writer at a time; also keeps ":memory:" to a single database
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultConnMaxLifetime
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	s, err := New(db, cfg.Logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.driver = cfg.Driver

	s.logger.Info("Connected to SQL storage", "driver", cfg.Driver)
	return s, nil
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := db.AutoMigrate(&tokenRecordModel{}, &tenantConfigModel{}, &membershipModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
		driver: db.Dialector.Name(),
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
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
		s.logger.Info("Token encryption at rest enabled for SQL storage")
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
// TokenStore Implementation
// ============================================================

func byKey(key storage.Key) (string, []any) {
	return "principal_id = ? AND tenant_id = ?", []any{key.PrincipalID, key.TenantID}
}

// Get returns the record stored under key and decrypts if necessary
func (s *Store) Get(ctx context.Context, key storage.Key) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	var m tokenRecordModel
	query, args := byKey(key)
	if err = s.db.WithContext(ctx).Where(query, args...).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: %s", storage.ErrTokenNotFound, key)
			return nil, err
		}
		err = fmt.Errorf("failed to get token record: %w", err)
		return nil, err
	}

	var record *storage.TokenRecord
	record, err = storage.DecryptRecord(m.record(), s.getCodec())
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Upsert merges record into the stored row inside a transaction that holds
// the row lock (SELECT ... FOR UPDATE on MySQL; SQLite serializes writers).
func (s *Store) Upsert(ctx context.Context, record *storage.TokenRecord) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "upsert_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "upsert_token", err, startTime)
	}()

	if err = storage.ValidateRecord(record); err != nil {
		return nil, err
	}

	codec := s.getCodec()
	var merged *storage.TokenRecord
	var created bool

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *storage.TokenRecord
		var row tokenRecordModel
		query, args := byKey(record.Key)
		findErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).Take(&row).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
		case findErr != nil:
			return fmt.Errorf("failed to read token record: %w", findErr)
		default:
			var decErr error
			existing, decErr = storage.DecryptRecord(row.record(), codec)
			if decErr != nil {
				return decErr
			}
		}

		merged = storage.MergeRecord(existing, record, s.now())
		created = existing == nil

		sealed, encErr := storage.EncryptRecord(merged, codec)
		if encErr != nil {
			return encErr
		}
		if saveErr := tx.Save(toTokenModel(sealed)).Error; saveErr != nil {
			return fmt.Errorf("failed to save token record: %w", saveErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Stored credential",
		"tenant_id", record.TenantID,
		"principal_id", record.PrincipalID,
		"created", created)

	return merged, nil
}

// Delete removes the record stored under key
func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	ctx, span := s.startStorageSpan(ctx, "delete_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_token", err, startTime)
	}()

	query, args := byKey(key)
	if err = s.db.WithContext(ctx).Where(query, args...).Delete(&tokenRecordModel{}).Error; err != nil {
		err = fmt.Errorf("failed to delete token record: %w", err)
		return err
	}
	return nil
}

// FirstForTenant returns the tenant's oldest record, ties broken by principal id.
// Deprecated: only serves the legacy tenant-administrative fallback.
func (s *Store) FirstForTenant(ctx context.Context, tenantID string) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "first_for_tenant")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "first_for_tenant", err, startTime)
	}()

	var m tokenRecordModel
	err = s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Order("principal_id ASC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: tenant %s", storage.ErrTokenNotFound, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to get first token record: %w", err)
		return nil, err
	}

	var record *storage.TokenRecord
	record, err = storage.DecryptRecord(m.record(), s.getCodec())
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ============================================================
// TenantStore / TenantAdmin Implementation
// ============================================================

// GetOAuthConfig returns the tenant's OAuth client
func (s *Store) GetOAuthConfig(ctx context.Context, tenantID string) (*storage.TenantOAuthConfig, error) {
	ctx, span := s.startStorageSpan(ctx, "get_oauth_config")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_oauth_config", err, startTime)
	}()

	var m tenantConfigModel
	if err = s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: %s", storage.ErrTenantConfigNotFound, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to get tenant config: %w", err)
		return nil, err
	}
	return m.config(), nil
}

// SaveOAuthConfig creates or replaces the tenant's OAuth client
func (s *Store) SaveOAuthConfig(ctx context.Context, cfg *storage.TenantOAuthConfig) error {
	ctx, span := s.startStorageSpan(ctx, "save_oauth_config")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_oauth_config", err, startTime)
	}()

	if cfg == nil || cfg.TenantID == "" {
		err = fmt.Errorf("tenant id cannot be empty")
		return err
	}

	m := &tenantConfigModel{
		TenantID:              cfg.TenantID,
		EncryptedClientID:     cfg.EncryptedClientID,
		EncryptedClientSecret: cfg.EncryptedClientSecret,
		AdminEmail:            util.NormalizeEmail(cfg.AdminEmail),
		ProviderDomain:        cfg.ProviderDomain,
		UpdatedAt:             cfg.UpdatedAt,
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = s.now()
	}

	if err = s.db.WithContext(ctx).Save(m).Error; err != nil {
		err = fmt.Errorf("failed to save tenant config: %w", err)
		return err
	}
	return nil
}

// Membership returns the principal's membership in the tenant
func (s *Store) Membership(ctx context.Context, tenantID, principalID string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "get_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_membership", err, startTime)
	}()

	var m membershipModel
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND principal_id = ?", tenantID, principalID).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: principal %s in tenant %s", storage.ErrMembershipNotFound, principalID, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to get membership: %w", err)
		return nil, err
	}
	return m.membership(), nil
}

// FindMemberByEmail returns the tenant's membership with the given email
func (s *Store) FindMemberByEmail(ctx context.Context, tenantID, email string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "find_member_by_email")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "find_member_by_email", err, startTime)
	}()

	var m membershipModel
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, util.NormalizeEmail(email)).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: tenant %s", storage.ErrMembershipNotFound, tenantID)
			return nil, err
		}
		err = fmt.Errorf("failed to find member: %w", err)
		return nil, err
	}
	return m.membership(), nil
}

// LatestMembership returns the principal's most recently active membership
func (s *Store) LatestMembership(ctx context.Context, principalID string) (*storage.Membership, error) {
	ctx, span := s.startStorageSpan(ctx, "latest_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "latest_membership", err, startTime)
	}()

	var m membershipModel
	err = s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("last_active_at DESC").
		Order("tenant_id ASC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = fmt.Errorf("%w: principal %s", storage.ErrMembershipNotFound, principalID)
			return nil, err
		}
		err = fmt.Errorf("failed to get latest membership: %w", err)
		return nil, err
	}
	return m.membership(), nil
}

// SaveMembership creates or replaces a membership
func (s *Store) SaveMembership(ctx context.Context, membership *storage.Membership) error {
	ctx, span := s.startStorageSpan(ctx, "save_membership")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_membership", err, startTime)
	}()

	if membership == nil || membership.PrincipalID == "" || membership.TenantID == "" {
		err = fmt.Errorf("principal and tenant cannot be empty")
		return err
	}

	m := &membershipModel{
		PrincipalID:  membership.PrincipalID,
		TenantID:     membership.TenantID,
		Email:        util.NormalizeEmail(membership.Email),
		JoinedAt:     membership.JoinedAt,
		LastActiveAt: membership.LastActiveAt,
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now()
	}
	if m.LastActiveAt.IsZero() {
		m.LastActiveAt = m.JoinedAt
	}

	if err = s.db.WithContext(ctx).Save(m).Error; err != nil {
		err = fmt.Errorf("failed to save membership: %w", err)
		return err
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
			attribute.String(instrumentation.AttrStorageType, s.driver),
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
