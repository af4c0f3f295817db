// Package storage creates the backing store the query engine reads from.
// The configured storage type is the single decision point between the
// PostgreSQL store and the in-memory file store.
package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the backing store and owns the resources behind it.
type Factory interface {
	// CreateStore returns the store serving the configured collections
	CreateStore(ctx context.Context) (store.Store, error)

	// Cleanup releases any resources held by this factory.
	// For database factories, this closes the connection pool.
	// For file factories, this is a no-op.
	Cleanup()
}

// Option configures a storage factory
type Option func(*options)

type options struct {
	tracer trace.Tracer
}

// WithTracer sets the OpenTelemetry tracer handed to the stores.
// If not set, tracing is disabled (no-op).
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStorageFactory creates a storage factory based on the configured storage type.
// Returns a FileFactory for file-based storage or a DatabaseFactory for database storage.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...Option) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.GetStorageType() {
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(ctx, cfg, opts...)
	case config.StorageTypeFile:
		return NewFileFactory(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}

// tables returns the backing table of every configured collection
func tables(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Collections))
	for i := range cfg.Collections {
		out[cfg.Collections[i].Name] = cfg.Collections[i].GetTable()
	}
	return out
}
