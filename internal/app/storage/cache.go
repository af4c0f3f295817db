package storage

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/store/cache"
	"github.com/stacklok/facet-query-server/internal/telemetry"
)

// NewCachedStore wraps inner with the configured query cache. inner is
// returned unchanged when cfg is nil. The returned func releases the cache
// backend and is never nil.
func NewCachedStore(
	inner store.Store,
	cfg *config.CacheConfig,
	meterProvider metric.MeterProvider,
	opts ...Option,
) (store.Store, func(), error) {
	noop := func() {}
	if cfg == nil {
		return inner, noop, nil
	}

	var (
		backend cache.Backend
		release = noop
	)
	switch cfg.Type {
	case config.CacheTypeMemory:
		backend = cache.NewLRU(cfg.GetSize(), cfg.GetTTL())
	case config.CacheTypeRedis:
		if cfg.Redis == nil {
			return nil, noop, fmt.Errorf("cache.redis is required when cache.type is %s", config.CacheTypeRedis)
		}
		password, err := cfg.Redis.GetPassword()
		if err != nil {
			return nil, noop, err
		}
		r, err := cache.NewRedis(cache.RedisOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, noop, err
		}
		backend = r
		release = r.Close
	default:
		return nil, noop, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}

	o := newOptions(opts)
	cacheOpts := []cache.Option{cache.WithTTL(cfg.GetTTL())}
	if o.tracer != nil {
		cacheOpts = append(cacheOpts, cache.WithTracer(o.tracer))
	}
	if meterProvider != nil {
		cacheOpts = append(cacheOpts, cache.WithMeter(meterProvider.Meter(telemetry.CacheMetricsMeterName)))
	}

	cached, err := cache.New(inner, backend, cacheOpts...)
	if err != nil {
		release()
		return nil, noop, fmt.Errorf("failed to create query cache: %w", err)
	}

	slog.Info("Query cache enabled", "backend", backend.Name(), "ttl", cfg.GetTTL())
	return cached, release, nil
}
