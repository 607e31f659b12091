package authlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/porthorian/authlite/pkg/authz"
	memorycache "github.com/porthorian/authlite/pkg/cache/memory"
	rediscache "github.com/porthorian/authlite/pkg/cache/redis"
	"github.com/porthorian/authlite/pkg/config"
	ocrypto "github.com/porthorian/authlite/pkg/crypto"
	memorystore "github.com/porthorian/authlite/pkg/storage/memory"
	"github.com/porthorian/authlite/pkg/storage/postgres"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
)

type CacheBackend string

const (
	CacheBackendNone   CacheBackend = "none"
	CacheBackendMemory CacheBackend = "memory"
	CacheBackendRedis  CacheBackend = "redis"
)

type RuntimeConfig struct {
	Storage StorageConfig
	Cache   CacheConfig
}

type StorageConfig struct {
	Backend  StorageBackend
	Postgres PostgresConfig
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	// SettingsTable, when set, is read into the database layer of the
	// settings resolver after connecting.
	SettingsTable string
	OpenDB        func(driverName string, dsn string) (*sql.DB, error)
}

type CacheConfig struct {
	Backend CacheBackend
	Redis   RedisCacheConfig
}

type RedisCacheConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	PingTimeout time.Duration
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := c
	cfg.Logger = resolveLogger(cfg.Logger)
	if cfg.Settings == nil {
		cfg.Settings = config.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = authz.DefaultRegistry()
	}

	closeStorage, cfg, err := initializeStorage(ctx, cfg)
	if err != nil {
		return nil, Config{}, err
	}

	closeCache, cfg, err := initializeCache(ctx, cfg)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	// Resolved after storage so a database settings overlay can pick the
	// algorithm and the mailer.
	if cfg.Hasher == nil {
		algo := config.String(cfg.Settings, config.KeyPasswordHashAlgo, string(ocrypto.AlgorithmBcrypt))
		hasher, err := ocrypto.NewHasher(algo)
		if err != nil {
			_ = joinClosers(closeStorage, closeCache)()
			return nil, Config{}, fmt.Errorf("authlite config: %s: %w", config.KeyPasswordHashAlgo, err)
		}
		cfg.Hasher = hasher
	}

	if cfg.Mailer == nil && cfg.NewMailer != nil {
		mailer, err := cfg.NewMailer(cfg.Settings)
		if err != nil {
			_ = joinClosers(closeStorage, closeCache)()
			return nil, Config{}, fmt.Errorf("authlite config: failed to build mailer: %w", err)
		}
		cfg.Mailer = mailer
	}

	return joinClosers(closeStorage, closeCache), cfg, nil
}

func initializeStorage(ctx context.Context, cfg Config) (func() error, Config, error) {
	backend := cfg.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, cfg, nil
	case StorageBackendMemory:
		if cfg.Users == nil {
			cfg.Users = memorystore.NewAdapter()
		}
		cfg.Logger.V(1).Info("initialized memory storage backend")
		return noopCloser, cfg, nil
	case StorageBackendPostgres:
		return initializePostgres(ctx, cfg)
	default:
		return nil, Config{}, fmt.Errorf("authlite config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeCache(ctx context.Context, cfg Config) (func() error, Config, error) {
	backend := cfg.Runtime.Cache.Backend
	if backend == "" {
		backend = CacheBackendNone
	}

	switch backend {
	case CacheBackendNone:
		return noopCloser, cfg, nil
	case CacheBackendMemory:
		if cfg.Cache == nil {
			cfg.Cache = memorycache.NewAdapter()
		}
		cfg.Logger.V(1).Info("initialized memory cache backend")
		return noopCloser, cfg, nil
	case CacheBackendRedis:
		return initializeRedisCache(ctx, cfg)
	default:
		return nil, Config{}, fmt.Errorf("authlite config: unsupported runtime.cache.backend %q", backend)
	}
}

func initializeRedisCache(ctx context.Context, cfg Config) (func() error, Config, error) {
	redisConfig := cfg.Runtime.Cache.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("authlite config: runtime.cache.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}
	if redisConfig.PingTimeout <= 0 {
		redisConfig.PingTimeout = 5 * time.Second
	}

	adapter := rediscache.NewAdapter(rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.PingTimeout)
	defer cancel()

	// An unreachable cache only degrades coherence; keep going.
	if err := adapter.Ping(pingCtx); err != nil {
		cfg.Logger.Error(err, "redis cache backend is not reachable", "address", redisConfig.Address)
	}

	if cfg.Cache == nil {
		cfg.Cache = adapter
	}

	cfg.Runtime.Cache.Redis = redisConfig
	cfg.Logger.V(1).Info("initialized redis cache backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter.Close, cfg, nil
}

func initializePostgres(ctx context.Context, cfg Config) (func() error, Config, error) {
	pgConfig := cfg.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("authlite config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("authlite config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("authlite config: failed to ping postgres database: %w", err)
	}

	if pgConfig.SettingsTable != "" {
		layered, ok := cfg.Settings.(*config.Layered)
		if !ok {
			_ = db.Close()
			return nil, Config{}, fmt.Errorf("authlite config: runtime.storage.postgres.settings_table needs a layered settings resolver")
		}
		if err := layered.LoadDatabase(ctx, db, pgConfig.SettingsTable); err != nil {
			_ = db.Close()
			return nil, Config{}, fmt.Errorf("authlite config: failed to load settings table: %w", err)
		}
	}

	adapter, err := postgres.NewAdapter(db, postgres.Options{Table: config.Table(cfg.Settings, "users")})
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("authlite config: failed to initialize postgres adapter: %w", err)
	}

	if cfg.Users == nil {
		cfg.Users = adapter
	}

	closeResource := joinClosers(db.Close, adapter.Close)

	cfg.Runtime.Storage.Postgres = pgConfig
	cfg.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "table", adapter.Table(), "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, cfg, nil
}

// joinClosers runs closers in reverse order and reports every failure.
func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
