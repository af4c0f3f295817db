package engine

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/telemetry"
)

const (
	// DefaultMaxFanout is the number of facet queries one request runs at once
	DefaultMaxFanout = 8

	// TracerName is the name of the engine tracer
	TracerName = "github.com/stacklok/facet-query-server/engine"
)

// Option configures an Engine or a Resolver
type Option func(*settings)

type settings struct {
	builder   *query.Builder
	maxFanout int
	tracer    trace.Tracer
	metrics   *telemetry.EngineMetrics
}

func newSettings(opts []Option) settings {
	s := settings{maxFanout: DefaultMaxFanout}
	for _, opt := range opts {
		opt(&s)
	}
	if s.builder == nil {
		s.builder = query.NewBuilder()
	}
	return s
}

// WithBuilder sets the query spec builder
func WithBuilder(b *query.Builder) Option {
	return func(s *settings) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithMaxFanout bounds the facet queries a single request runs concurrently
func WithMaxFanout(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxFanout = n
		}
	}
}

// WithTracer sets the tracer for engine spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = tracer
	}
}

// WithMetrics sets the engine metrics. Nil disables metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}
