// Package config provides configuration loading and management for the facet server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/facet-query-server/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read by the server
const EnvPrefix = "FACETS"

const (
	// StorageTypeDatabase serves collections from PostgreSQL tables
	StorageTypeDatabase = "database"

	// StorageTypeFile serves collections from JSON or YAML files loaded in memory
	StorageTypeFile = "file"
)

const (
	// CacheTypeMemory caches store queries in a process-local LRU
	CacheTypeMemory = "memory"

	// CacheTypeRedis caches store queries in Redis
	CacheTypeRedis = "redis"
)

const (
	// DefaultPageSize is the page size used when a request does not set one
	DefaultPageSize = 25

	// DefaultMaxPageSize is the upper bound applied to requested page sizes
	DefaultMaxPageSize = 500

	// DefaultMaxConcurrency is the number of concurrent store queries allowed per process
	DefaultMaxConcurrency = 16

	// DefaultMaxFacetFanout is the number of facet queries a single request may run at once
	DefaultMaxFacetFanout = 8

	// DefaultCacheTTL is the lifetime of a cached store query
	DefaultCacheTTL = 30 * time.Second

	// DefaultCacheSize is the number of entries kept by the memory cache
	DefaultCacheSize = 1024
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServiceName identifies this server instance in logs and telemetry
	ServiceName string `yaml:"serviceName,omitempty"`

	Storage     StorageConfig      `yaml:"storage"`
	Database    *DatabaseConfig    `yaml:"database,omitempty"`
	File        *FileConfig        `yaml:"file,omitempty"`
	Engine      EngineConfig       `yaml:"engine,omitempty"`
	Cache       *CacheConfig       `yaml:"cache,omitempty"`
	Telemetry   *telemetry.Config  `yaml:"telemetry,omitempty"`
	Collections []CollectionConfig `yaml:"collections"`
}

// StorageConfig selects the backing store
type StorageConfig struct {
	// Type is either "database" or "file"
	Type string `yaml:"type"`
}

// FileConfig defines the file-backed store settings
type FileConfig struct {
	// DataDir holds one <collection>.json or <collection>.yaml file per collection
	DataDir string `yaml:"dataDir"`
}

// EngineConfig bounds the query engine
type EngineConfig struct {
	// DefaultPageSize is used when a request omits the page limit
	DefaultPageSize int `yaml:"defaultPageSize,omitempty"`

	// MaxPageSize caps the page limit a request may ask for
	MaxPageSize int `yaml:"maxPageSize,omitempty"`

	// MaxConcurrency is the number of store queries allowed in flight across
	// all requests. Size it to the store's connection budget.
	MaxConcurrency int `yaml:"maxConcurrency,omitempty"`

	// MaxFacetFanout is the number of facet queries one request may run at once
	MaxFacetFanout int `yaml:"maxFacetFanout,omitempty"`
}

// CacheConfig enables caching of store query results
type CacheConfig struct {
	// Type is either "memory" or "redis"
	Type string `yaml:"type"`

	// TTL is the lifetime of a cached entry (e.g. "30s")
	TTL string `yaml:"ttl,omitempty"`

	// Size bounds the number of entries of the memory cache
	Size int `yaml:"size,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines the Redis connection used by the redis cache
type RedisConfig struct {
	Addrs        []string `yaml:"addrs"`
	Username     string   `yaml:"username,omitempty"`
	PasswordFile string   `yaml:"passwordFile,omitempty"`
	DB           int      `yaml:"db,omitempty"`
}

// CollectionConfig describes one queryable collection and its filter dimensions
type CollectionConfig struct {
	// Name is the public identifier used by API clients
	Name string `yaml:"name"`

	// Table is the backing table; defaults to Name
	Table string `yaml:"table,omitempty"`

	// Columns are the projected columns returned in row pages
	Columns []string `yaml:"columns"`

	// IndexedColumns may be used for sorting in addition to the projected columns
	IndexedColumns []string `yaml:"indexedColumns,omitempty"`

	// SearchColumns are searched when a request carries a term but no columns
	SearchColumns []string `yaml:"searchColumns,omitempty"`

	DefaultSort SortConfig     `yaml:"defaultSort"`
	Filters     []FilterConfig `yaml:"filters"`
}

// SortConfig defines a sort column and direction
type SortConfig struct {
	Column    string `yaml:"column"`
	Direction string `yaml:"direction,omitempty"`
}

// FilterConfig describes one filterable dimension of a collection
type FilterConfig struct {
	Key       string      `yaml:"key"`
	Columns   []string    `yaml:"columns"`
	Operator  string      `yaml:"operator"`
	Kind      string      `yaml:"kind,omitempty"`
	DependsOn string      `yaml:"dependsOn,omitempty"`
	Order     string      `yaml:"order,omitempty"`
	Label     LabelConfig `yaml:"label,omitempty"`
}

// LabelConfig describes how raw facet values are rendered for display
type LabelConfig struct {
	// Case is one of upper, lower or title
	Case string `yaml:"case,omitempty"`

	// Format is a fmt verb string applied to the raw value, e.g. "%v stars"
	Format string `yaml:"format,omitempty"`

	// Values maps raw values to fixed labels and takes precedence
	Values map[string]string `yaml:"values,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the minimum number of idle connections kept in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`

	// MigrationUser is the user that applies migrations and loads data.
	// Defaults to User.
	MigrationUser string `yaml:"migrationUser,omitempty"`

	// DynamicAuth replaces the static password with short-lived tokens
	DynamicAuth *DynamicAuthConfig `yaml:"dynamicAuth,omitempty"`
}

// DynamicAuthConfig selects a token-based authentication method
type DynamicAuthConfig struct {
	// AWSRDSIAM authenticates with AWS RDS IAM tokens
	AWSRDSIAM *DynamicAuthAWSRDSIAM `yaml:"awsRdsIam,omitempty"`
}

// DynamicAuthAWSRDSIAM configures AWS RDS IAM authentication
type DynamicAuthAWSRDSIAM struct {
	// Region is the AWS region of the database, or "detect" to read it from
	// the instance metadata service
	Region string `yaml:"region"`
}

// GetMigrationUser returns MigrationUser, falling back to User
func (d *DatabaseConfig) GetMigrationUser() string {
	if d.MigrationUser != "" {
		return d.MigrationUser
	}
	return d.User
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FACETS_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return readSecretFile(d.PasswordFile)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	if err := v.BindEnv("DATABASE_PASSWORD"); err != nil {
		return "", fmt.Errorf("failed to bind password environment variable: %w", err)
	}
	if envPassword := v.GetString("DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s_DATABASE_PASSWORD environment variable",
		EnvPrefix,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}
	return d.BuildConnectionStringWithAuth(d.User, password), nil
}

// BuildConnectionStringWithAuth builds a connection string for user. An empty
// password is left out of the string.
func (d *DatabaseConfig) BuildConnectionStringWithAuth(user, password string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	userInfo := url.QueryEscape(user)
	if password != "" {
		userInfo += ":" + url.QueryEscape(password)
	}

	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		userInfo,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)
}

// GetPassword returns the Redis password from PasswordFile, or an empty string
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile == "" {
		return "", nil
	}
	return readSecretFile(r.PasswordFile)
}

func readSecretFile(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret from file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetServiceName returns the service name, using "facet-api" if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return "facet-api"
	}
	return c.ServiceName
}

// GetStorageType returns the configured storage type, defaulting to file
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetDefaultPageSize returns the default page size
func (e EngineConfig) GetDefaultPageSize() int {
	if e.DefaultPageSize <= 0 {
		return DefaultPageSize
	}
	return e.DefaultPageSize
}

// GetMaxPageSize returns the maximum page size
func (e EngineConfig) GetMaxPageSize() int {
	if e.MaxPageSize <= 0 {
		return DefaultMaxPageSize
	}
	return e.MaxPageSize
}

// GetMaxConcurrency returns the process-wide store concurrency budget
func (e EngineConfig) GetMaxConcurrency() int {
	if e.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return e.MaxConcurrency
}

// GetMaxFacetFanout returns the per-request facet query fan-out
func (e EngineConfig) GetMaxFacetFanout() int {
	if e.MaxFacetFanout <= 0 {
		return DefaultMaxFacetFanout
	}
	return e.MaxFacetFanout
}

// GetTTL returns the parsed cache TTL
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTL == "" {
		return DefaultCacheTTL
	}
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return DefaultCacheTTL
	}
	return ttl
}

// GetSize returns the memory cache size
func (c *CacheConfig) GetSize() int {
	if c.Size <= 0 {
		return DefaultCacheSize
	}
	return c.Size
}

// GetTable returns the backing table name, defaulting to the collection name
func (c *CollectionConfig) GetTable() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection must be configured")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateEngine(); err != nil {
		return err
	}

	if err := c.validateCache(); err != nil {
		return err
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	names := make(map[string]bool)
	for i := range c.Collections {
		coll := &c.Collections[i]
		if coll.Name == "" {
			return fmt.Errorf("collection[%d]: name is required", i)
		}
		if names[coll.Name] {
			return fmt.Errorf("collection[%d]: duplicate collection name '%s'", i, coll.Name)
		}
		names[coll.Name] = true

		if err := validateCollection(coll, i); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required when storage.type is %s", StorageTypeDatabase)
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
			}
		}
		if auth := c.Database.DynamicAuth; auth != nil {
			if auth.AWSRDSIAM == nil {
				return fmt.Errorf("database.dynamicAuth requires an auth method such as awsRdsIam")
			}
			if auth.AWSRDSIAM.Region == "" {
				return fmt.Errorf("database.dynamicAuth.awsRdsIam.region is required")
			}
		}
	case StorageTypeFile:
		if c.File == nil || c.File.DataDir == "" {
			return fmt.Errorf("file.dataDir is required when storage.type is %s", StorageTypeFile)
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}
	return nil
}

func (c *Config) validateEngine() error {
	var errs []error
	if c.Engine.DefaultPageSize < 0 {
		errs = append(errs, fmt.Errorf("engine.defaultPageSize must not be negative"))
	}
	if c.Engine.MaxPageSize < 0 {
		errs = append(errs, fmt.Errorf("engine.maxPageSize must not be negative"))
	}
	if c.Engine.GetDefaultPageSize() > c.Engine.GetMaxPageSize() {
		errs = append(errs, fmt.Errorf("engine.defaultPageSize (%d) exceeds engine.maxPageSize (%d)",
			c.Engine.GetDefaultPageSize(), c.Engine.GetMaxPageSize()))
	}
	if c.Engine.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("engine.maxConcurrency must not be negative"))
	}
	if c.Engine.MaxFacetFanout < 0 {
		errs = append(errs, fmt.Errorf("engine.maxFacetFanout must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateCache() error {
	if c.Cache == nil {
		return nil
	}

	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("cache.ttl must be a valid duration (e.g., '30s'): %w", err)
		}
	}

	switch c.Cache.Type {
	case CacheTypeMemory:
		return nil
	case CacheTypeRedis:
		if c.Cache.Redis == nil || len(c.Cache.Redis.Addrs) == 0 {
			return fmt.Errorf("cache.redis.addrs is required when cache.type is %s", CacheTypeRedis)
		}
		return nil
	default:
		return fmt.Errorf("unknown cache type: %s", c.Cache.Type)
	}
}

// validateCollection checks the structural fields of a collection. Operator,
// kind and dependency semantics are checked when the filter registry is built.
func validateCollection(coll *CollectionConfig, index int) error {
	prefix := fmt.Sprintf("collection[%d] (%s)", index, coll.Name)

	if len(coll.Columns) == 0 {
		return fmt.Errorf("%s: at least one column is required", prefix)
	}
	if coll.DefaultSort.Column == "" {
		return fmt.Errorf("%s: defaultSort.column is required", prefix)
	}

	for j, f := range coll.Filters {
		if f.Key == "" {
			return fmt.Errorf("%s: filter[%d]: key is required", prefix, j)
		}
		if len(f.Columns) == 0 {
			return fmt.Errorf("%s: filter[%d] (%s): at least one column is required", prefix, j, f.Key)
		}
		if f.Operator == "" {
			return fmt.Errorf("%s: filter[%d] (%s): operator is required", prefix, j, f.Key)
		}
	}

	return nil
}
