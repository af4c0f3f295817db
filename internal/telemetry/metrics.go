package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// EngineMetricsMeterName is the name used for the query engine meter
	EngineMetricsMeterName = "github.com/stacklok/facet-query-server/engine"

	// CacheMetricsMeterName is the name used for the query cache meter
	CacheMetricsMeterName = "github.com/stacklok/facet-query-server/cache"
)

// Query kinds recorded by EngineMetrics
const (
	QueryKindRows  = "rows"
	QueryKindFacet = "facet"
)

// EngineMetrics holds the OpenTelemetry instruments of the query engine
type EngineMetrics struct {
	queryDuration  metric.Float64Histogram
	facetFailures  metric.Int64Counter
	partialResults metric.Int64Counter
}

// NewEngineMetrics creates a new EngineMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewEngineMetrics(provider metric.MeterProvider) (*EngineMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(EngineMetricsMeterName)

	queryDuration, err := meter.Float64Histogram(
		"facets_query_duration_seconds",
		metric.WithDescription("Duration of store queries issued by the engine in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	facetFailures, err := meter.Int64Counter(
		"facets_facet_failures_total",
		metric.WithDescription("Number of facet queries that failed and degraded a response"),
		metric.WithUnit("{facet}"),
	)
	if err != nil {
		return nil, err
	}

	partialResults, err := meter.Int64Counter(
		"facets_partial_results_total",
		metric.WithDescription("Number of responses returned with one or more degraded facets"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		queryDuration:  queryDuration,
		facetFailures:  facetFailures,
		partialResults: partialResults,
	}, nil
}

// RecordQueryDuration records the duration of one store query
func (m *EngineMetrics) RecordQueryDuration(
	ctx context.Context, collection, kind string, duration time.Duration, success bool,
) {
	if m == nil || m.queryDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("collection", collection),
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFacetFailure counts a facet that could not be computed
func (m *EngineMetrics) RecordFacetFailure(ctx context.Context, collection, key string) {
	if m == nil || m.facetFailures == nil {
		return
	}

	m.facetFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("key", key),
	))
}

// RecordPartialResult counts a response carrying degraded facets
func (m *EngineMetrics) RecordPartialResult(ctx context.Context, collection string) {
	if m == nil || m.partialResults == nil {
		return
	}

	m.partialResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
	))
}
