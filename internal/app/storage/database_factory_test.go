package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/database"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store/postgres"
)

func writePasswordFile(t *testing.T, password string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte(password+"\n"), 0600))
	return path
}

func TestBuildPoolConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		engine       config.EngineConfig
		database     config.DatabaseConfig
		wantMaxConns int32
		wantMinConns int32
		wantLifetime time.Duration
		wantErr      string
	}{
		{
			name:         "sized from engine concurrency",
			engine:       config.EngineConfig{MaxConcurrency: 12},
			wantMaxConns: 12,
		},
		{
			name:         "default engine concurrency",
			wantMaxConns: config.DefaultMaxConcurrency,
		},
		{
			name:         "explicit pool size wins",
			engine:       config.EngineConfig{MaxConcurrency: 12},
			database:     config.DatabaseConfig{MaxOpenConns: 30, MaxIdleConns: 4, ConnMaxLifetime: "30m"},
			wantMaxConns: 30,
			wantMinConns: 4,
			wantLifetime: 30 * time.Minute,
		},
		{
			name:         "idle connections capped by pool size",
			database:     config.DatabaseConfig{MaxOpenConns: 2, MaxIdleConns: 10},
			wantMaxConns: 2,
			wantMinConns: 2,
		},
		{
			name:     "invalid lifetime",
			database: config.DatabaseConfig{ConnMaxLifetime: "forever"},
			wantErr:  "failed to parse connMaxLifetime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db := tt.database
			db.Host = "db.internal"
			db.Port = 5432
			db.User = "facets"
			db.Database = "funds"
			db.SSLMode = "disable"
			db.PasswordFile = writePasswordFile(t, "s3cr3t")

			poolConfig, err := buildPoolConfig(context.Background(), &config.Config{
				ServiceName: "facet-api-test",
				Engine:      tt.engine,
				Database:    &db,
			})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantMaxConns, poolConfig.MaxConns)
			if tt.wantMinConns > 0 {
				assert.Equal(t, tt.wantMinConns, poolConfig.MinConns)
			}
			if tt.wantLifetime > 0 {
				assert.Equal(t, tt.wantLifetime, poolConfig.MaxConnLifetime)
			}
			assert.Equal(t, "db.internal", poolConfig.ConnConfig.Host)
			assert.Equal(t, "s3cr3t", poolConfig.ConnConfig.Password)
			assert.Equal(t, "facet-api-test", poolConfig.ConnConfig.RuntimeParams["application_name"])
		})
	}
}

func TestBuildPoolConfigWithoutPassword(t *testing.T) {
	// Not parallel: clears the password environment variable
	t.Setenv(config.EnvPrefix+"_DATABASE_PASSWORD", "")

	_, err := buildPoolConfig(context.Background(), &config.Config{
		Database: &config.DatabaseConfig{Host: "db", Port: 5432, User: "facets", Database: "funds"},
	})
	assert.ErrorContains(t, err, "no database password configured")
}

func TestBuildPoolConfigWithDynamicAuth(t *testing.T) {
	t.Parallel()

	poolConfig, err := buildPoolConfig(context.Background(), &config.Config{
		Database: &config.DatabaseConfig{
			Host:     "db.internal",
			Port:     5432,
			User:     "facets",
			Database: "funds",
			DynamicAuth: &config.DynamicAuthConfig{
				AWSRDSIAM: &config.DynamicAuthAWSRDSIAM{Region: "eu-west-1"},
			},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, poolConfig.ConnConfig.Password)
	assert.NotNil(t, poolConfig.BeforeConnect)

	_, err = buildPoolConfig(context.Background(), &config.Config{
		Database: &config.DatabaseConfig{
			Host:        "db.internal",
			Port:        5432,
			User:        "facets",
			Database:    "funds",
			DynamicAuth: &config.DynamicAuthConfig{},
		},
	})
	assert.ErrorContains(t, err, "failed to set up dynamic database auth")
}

func TestNewDatabaseFactoryErrors(t *testing.T) {
	t.Parallel()

	_, err := NewDatabaseFactory(context.Background(), nil)
	assert.ErrorContains(t, err, "config cannot be nil")

	_, err = NewDatabaseFactory(context.Background(), &config.Config{})
	assert.ErrorContains(t, err, "database configuration is required")
}

func TestDatabaseFactoryAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	t.Parallel()

	_, connString := database.SetupTestDB(t)
	parsed, err := pgxpool.ParseConfig(connString)
	require.NoError(t, err)

	cfg := &config.Config{
		Storage: config.StorageConfig{Type: config.StorageTypeDatabase},
		Database: &config.DatabaseConfig{
			Host:         parsed.ConnConfig.Host,
			Port:         int(parsed.ConnConfig.Port),
			User:         parsed.ConnConfig.User,
			Database:     parsed.ConnConfig.Database,
			SSLMode:      "disable",
			PasswordFile: writePasswordFile(t, parsed.ConnConfig.Password),
		},
		Collections: []config.CollectionConfig{{Name: "funds"}},
	}

	ctx := context.Background()
	factory, err := NewStorageFactory(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(factory.Cleanup)

	s, err := factory.CreateStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &postgres.Store{}, s)
	require.NoError(t, s.Ping(ctx))

	t.Run("missing table", func(t *testing.T) {
		missing := *cfg
		missing.Collections = []config.CollectionConfig{{Name: "etfs", Table: "exchange_traded_funds"}}
		f, err := NewDatabaseFactory(ctx, &missing)
		require.NoError(t, err)
		t.Cleanup(f.Cleanup)

		_, err = f.CreateStore(ctx)
		assert.ErrorContains(t, err, `table "exchange_traded_funds" does not exist`)
	})
}
