package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderOption configures NewTracerProvider and NewMeterProvider
type ProviderOption func(*providerSettings)

type providerSettings struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	tracing        *TracingConfig
	metrics        *MetricsConfig
	spanExporter   sdktrace.SpanExporter
	registerer     prometheus.Registerer
}

func newProviderSettings(opts []ProviderOption) *providerSettings {
	s := &providerSettings{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServiceName sets the service.name resource attribute
func WithServiceName(name string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceName = name
	}
}

// WithServiceVersion sets the service.version resource attribute
func WithServiceVersion(version string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceVersion = version
	}
}

// WithEndpoint sets the OTLP HTTP endpoint (host:port)
func WithEndpoint(endpoint string) ProviderOption {
	return func(s *providerSettings) {
		s.endpoint = endpoint
	}
}

// WithInsecure sends OTLP data over plain HTTP
func WithInsecure(insecure bool) ProviderOption {
	return func(s *providerSettings) {
		s.insecure = insecure
	}
}

// WithTracingConfig enables tracing; a nil or disabled config yields a no-op tracer provider
func WithTracingConfig(tc *TracingConfig) ProviderOption {
	return func(s *providerSettings) {
		s.tracing = tc
	}
}

// WithMetricsConfig enables metrics; a nil or disabled config yields a no-op meter provider
func WithMetricsConfig(mc *MetricsConfig) ProviderOption {
	return func(s *providerSettings) {
		s.metrics = mc
	}
}

// WithSpanExporter replaces the OTLP span exporter, e.g. with an in-memory one in tests
func WithSpanExporter(exporter sdktrace.SpanExporter) ProviderOption {
	return func(s *providerSettings) {
		s.spanExporter = exporter
	}
}

// WithPrometheusRegisterer sets the registry the prometheus exporter registers
// its collector with. Defaults to prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(s *providerSettings) {
		s.registerer = reg
	}
}

// providerOptions translates a telemetry configuration into provider options
func providerOptions(cfg *Config) []ProviderOption {
	return []ProviderOption{
		WithServiceName(cfg.GetServiceName()),
		WithServiceVersion(cfg.GetServiceVersion()),
		WithEndpoint(cfg.GetEndpoint()),
		WithInsecure(cfg.GetInsecure()),
		WithTracingConfig(cfg.Tracing),
		WithMetricsConfig(cfg.Metrics),
	}
}

// resource describes the process to both providers
func (s *providerSettings) resource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(s.serviceName),
			semconv.ServiceVersion(s.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
