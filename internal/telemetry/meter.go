package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider creates the process meter provider and installs it as the
// OpenTelemetry global. Metrics are pushed over OTLP or pulled through the
// prometheus exporter. Without an enabled metrics config it returns a no-op
// provider. The caller shuts the provider down.
func NewMeterProvider(ctx context.Context, opts ...ProviderOption) (metric.MeterProvider, error) {
	s := newProviderSettings(opts)
	if s.metrics == nil || !s.metrics.Enabled {
		slog.Info("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	res, err := s.resource(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := newMetricReader(ctx, s)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized", "exporter", s.metrics.GetExporter(), "endpoint", s.endpoint)
	return mp, nil
}

func newMetricReader(ctx context.Context, s *providerSettings) (sdkmetric.Reader, error) {
	switch exporter := s.metrics.GetExporter(); exporter {
	case ExporterPrometheus:
		var promOpts []otelprom.Option
		if s.registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(s.registerer))
		}
		reader, err := otelprom.New(promOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus metrics exporter: %w", err)
		}
		return reader, nil

	case ExporterOTLP:
		otlpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			otlpOpts = append(otlpOpts, otlpmetrichttp.WithInsecure())
		}
		exp, err := otlpmetrichttp.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(s.metrics.GetInterval())), nil

	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}
}
