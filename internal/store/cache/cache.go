// Package cache provides a caching decorator for store.Store. Results are
// keyed by the digest of the query spec and held in a pluggable Backend.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/facet-query-server/internal/otel"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

const (
	// DefaultTTL is how long results stay cached when no TTL is configured
	DefaultTTL = 30 * time.Second
	// DefaultKeyPrefix namespaces cache keys
	DefaultKeyPrefix = "facets:"
	// TracerName is the name of the cache tracer
	TracerName = "github.com/stacklok/facet-query-server/store/cache"

	// MetricCacheRequests counts cache lookups by result
	MetricCacheRequests = "facets_cache_requests_total"
)

// Backend is a byte-oriented cache
type Backend interface {
	// Get returns the cached value and whether it was present
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set caches value for at most ttl
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Name identifies the backend in logs and telemetry
	Name() string
}

// Store caches the results of an inner store. Errors are never cached and a
// failing backend degrades to a miss.
type Store struct {
	inner    store.Store
	backend  Backend
	ttl      time.Duration
	prefix   string
	tracer   trace.Tracer
	requests metric.Int64Counter
}

var _ store.Store = (*Store)(nil)

// Option configures the cache decorator
type Option func(*Store) error

// WithTTL sets how long results stay cached
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive, got %s", ttl)
		}
		s.ttl = ttl
		return nil
	}
}

// WithKeyPrefix sets the prefix of every cache key
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) error {
		s.prefix = prefix
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) error {
		s.tracer = tracer
		return nil
	}
}

// WithMeter registers the cache request counter on meter
func WithMeter(meter metric.Meter) Option {
	return func(s *Store) error {
		if meter == nil {
			return nil
		}
		counter, err := meter.Int64Counter(
			MetricCacheRequests,
			metric.WithDescription("Total number of query cache lookups"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return fmt.Errorf("failed to create cache requests counter: %w", err)
		}
		s.requests = counter
		return nil
	}
}

// New wraps inner with a cache held in backend
func New(inner store.Store, backend Backend, opts ...Option) (*Store, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("cache backend is required")
	}

	s := &Store{
		inner:   inner,
		backend: backend,
		ttl:     DefaultTTL,
		prefix:  DefaultKeyPrefix,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Ping checks the inner store
func (s *Store) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

// Query implements store.Store
func (s *Store) Query(ctx context.Context, spec query.Spec) (*store.Page, error) {
	return cached(ctx, s, "rows", spec, s.inner.Query)
}

// Distinct implements store.Store
func (s *Store) Distinct(ctx context.Context, spec query.Spec) ([]any, error) {
	return cached(ctx, s, "distinct", spec, s.inner.Distinct)
}

func cached[T any](
	ctx context.Context,
	s *Store,
	op string,
	spec query.Spec,
	load func(context.Context, query.Spec) (T, error),
) (T, error) {
	digest := spec.Key()
	if digest == "" {
		return load(ctx, spec)
	}
	key := s.prefix + op + ":" + digest

	ctx, span := otel.StartSpan(ctx, s.tracer, "cache."+op,
		trace.WithAttributes(
			otel.AttrCacheBackend.String(s.backend.Name()),
			otel.AttrTable.String(spec.Table),
		),
	)
	defer span.End()

	if v, ok := s.lookup(ctx, key, op); ok {
		if out, err := decode[T](v); err == nil {
			span.SetAttributes(otel.AttrCacheHit.Bool(true))
			s.count(ctx, op, "hit")
			return out, nil
		}
		slog.WarnContext(ctx, "Discarding undecodable cache entry", "key", key, "backend", s.backend.Name())
	}

	span.SetAttributes(otel.AttrCacheHit.Bool(false))
	s.count(ctx, op, "miss")

	out, err := load(ctx, spec)
	if err != nil {
		otel.RecordError(span, err)
		return out, err
	}

	if data, err := encode(out); err != nil {
		slog.WarnContext(ctx, "Failed to encode result for cache", "key", key, "error", err)
	} else if err := s.backend.Set(ctx, key, data, s.ttl); err != nil {
		slog.WarnContext(ctx, "Failed to store result in cache", "key", key, "backend", s.backend.Name(), "error", err)
	}

	return out, nil
}

func (s *Store) lookup(ctx context.Context, key, op string) ([]byte, bool) {
	v, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Cache lookup failed",
			"key", key, "op", op, "backend", s.backend.Name(), "error", err)
		return nil, false
	}
	return v, ok
}

func (s *Store) count(ctx context.Context, op, result string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
		attribute.String("backend", s.backend.Name()),
	))
}
