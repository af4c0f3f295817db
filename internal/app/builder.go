package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/facet-query-server/internal/api"
	"github.com/stacklok/facet-query-server/internal/app/storage"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/engine"
	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store/cache"
	"github.com/stacklok/facet-query-server/internal/store/postgres"
	"github.com/stacklok/facet-query-server/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// FacetAppOptions is a function that configures the facet app builder
type FacetAppOptions func(*facetAppConfig) error

// facetAppConfig collects the builder inputs. Component overrides exist
// primarily for testing.
type facetAppConfig struct {
	config *config.Config

	storageFactory storage.Factory

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler
}

func baseConfig(opts ...FacetAppOptions) (*facetAppConfig, error) {
	cfg := &facetAppConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// NewFacetApp builds the application from the given options
func NewFacetApp(
	ctx context.Context,
	opts ...FacetAppOptions,
) (*FacetApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	// The registry is validated first: a bad filter configuration must not
	// open any connection.
	registry, err := filters.NewRegistry(cfg.config.Collections)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter registry: %w", err)
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config,
			storage.WithTracer(cfg.tracer(postgres.TracerName)))
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	releaseCache := func() {}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			releaseCache()
			cfg.storageFactory.Cleanup()
		}
	}()

	components, releaseCache, err := buildEngineComponents(ctx, cfg, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	factory := cfg.storageFactory
	return &FacetApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ready:      make(chan struct{}),
		cleanup: func() {
			releaseCache()
			factory.Cleanup()
		},
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares, replacing the defaults
func WithMiddlewares(mw ...func(http.Handler) http.Handler) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout bounds the handling of a single request
func WithRequestTimeout(d time.Duration) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %s", d)
		}
		cfg.requestTimeout = d
		if cfg.writeTimeout < d {
			cfg.writeTimeout = d + 5*time.Second
		}
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for engine, cache and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for engine, store and HTTP spans
func WithTracerProvider(tp trace.TracerProvider) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) FacetAppOptions {
	return func(cfg *facetAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// tracer returns the named tracer, or nil when tracing is not configured
func (b *facetAppConfig) tracer(name string) trace.Tracer {
	if b.tracerProvider == nil {
		return nil
	}
	return b.tracerProvider.Tracer(name)
}

// buildEngineComponents creates the store, the optional query cache and the
// engine over them. The returned func releases the cache backend.
func buildEngineComponents(
	ctx context.Context,
	b *facetAppConfig,
	registry *filters.Registry,
) (*AppComponents, func(), error) {
	slog.Info("Initializing engine components")

	noop := func() {}
	s, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create store: %w", err)
	}

	s, release, err := storage.NewCachedStore(s, b.config.Cache, b.meterProvider,
		storage.WithTracer(b.tracer(cache.TracerName)))
	if err != nil {
		return nil, noop, err
	}

	metrics, err := telemetry.NewEngineMetrics(b.meterProvider)
	if err != nil {
		release()
		return nil, noop, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	if metrics != nil {
		slog.Info("Engine metrics enabled")
	}

	engineCfg := b.config.Engine
	tracer := b.tracer(engine.TracerName)
	executor := engine.NewExecutor(s,
		engine.WithMaxConcurrency(engineCfg.GetMaxConcurrency()),
		engine.WithExecutorTracer(tracer),
		engine.WithExecutorMetrics(metrics),
	)
	eng := engine.New(registry, executor,
		engine.WithBuilder(query.NewBuilder(
			query.WithDefaultPageSize(engineCfg.GetDefaultPageSize()),
			query.WithMaxPageSize(engineCfg.GetMaxPageSize()),
		)),
		engine.WithMaxFanout(engineCfg.GetMaxFacetFanout()),
		engine.WithTracer(tracer),
		engine.WithMetrics(metrics),
	)

	slog.Info("Engine components initialized successfully",
		"collections", len(registry.Collections()),
		"max_concurrency", engineCfg.GetMaxConcurrency(),
		"max_facet_fanout", engineCfg.GetMaxFacetFanout())

	return &AppComponents{
		Registry: registry,
		Store:    s,
		Engine:   eng,
	}, release, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *facetAppConfig,
	eng *engine.Engine,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics come first so they observe every request
	var observability []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		observability = append(observability, telemetry.TracingMiddleware(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		observability = append(observability, metricsMiddleware)
		slog.Info("HTTP metrics middleware enabled")
	}
	middlewares = append(observability, middlewares...)

	router := api.NewServer(eng,
		api.WithMiddlewares(middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
	)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
