package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/facet-query-server/internal/app/storage/auth"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/store/postgres"
)

// DatabaseFactory creates the PostgreSQL-backed store.
type DatabaseFactory struct {
	config *config.Config
	pool   *pgxpool.Pool
	options
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a new database-backed storage factory.
// It establishes a connection pool to the configured PostgreSQL database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, opts ...Option) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	slog.Info("Creating database-backed storage factory",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database)

	poolConfig, err := buildPoolConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully", "max_conns", poolConfig.MaxConns)
	return &DatabaseFactory{
		config:  cfg,
		pool:    pool,
		options: newOptions(opts),
	}, nil
}

// CreateStore creates the postgres store on the factory's pool. Every
// collection table must exist.
func (d *DatabaseFactory) CreateStore(ctx context.Context) (store.Store, error) {
	slog.Debug("Creating database-backed store")

	if err := d.checkTables(ctx); err != nil {
		return nil, err
	}

	opts := []postgres.Option{
		postgres.WithConnectionPool(d.pool),
	}
	if d.tracer != nil {
		opts = append(opts, postgres.WithTracer(d.tracer))
		slog.Debug("Database store tracing enabled")
	}

	return postgres.New(opts...)
}

// Cleanup releases resources held by the database factory.
// This closes the database connection pool and any active connections.
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}

func (d *DatabaseFactory) checkTables(ctx context.Context) error {
	for collection, table := range tables(d.config) {
		var exists bool
		err := d.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to look up table %q: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("collection %q: table %q does not exist", collection, table)
		}
	}
	return nil
}

// buildPoolConfig translates the database configuration into a pgx pool
// configuration. The pool is sized to at least the engine's store
// concurrency unless maxOpenConns is set. With dynamic auth every new
// connection fetches its own token.
func buildPoolConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Config, error) {
	var connStr string
	if cfg.Database.DynamicAuth != nil {
		connStr = cfg.Database.BuildConnectionStringWithAuth(cfg.Database.User, "")
	} else {
		var err error
		connStr, err = cfg.Database.GetConnectionString()
		if err != nil {
			return nil, err
		}
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if cfg.Database.DynamicAuth != nil {
		beforeConnect, err := auth.NewDynamicAuth(ctx, cfg.Database, cfg.Database.User)
		if err != nil {
			return nil, fmt.Errorf("failed to set up dynamic database auth: %w", err)
		}
		poolConfig.BeforeConnect = beforeConnect
		slog.Info("Database dynamic authentication enabled", "user", cfg.Database.User)
	}

	poolConfig.MaxConns = int32(cfg.Engine.GetMaxConcurrency()) //nolint:gosec // bounded by config validation
	if cfg.Database.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.Database.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns > 0 {
		poolConfig.MinConns = min(cfg.Database.MaxIdleConns, poolConfig.MaxConns)
	}
	if cfg.Database.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.Database.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("failed to parse connMaxLifetime: %w", err)
		}
		poolConfig.MaxConnLifetime = lifetime
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.GetServiceName()

	return poolConfig, nil
}
