// Package otel provides OpenTelemetry span helpers shared by the query engine,
// the stores and the HTTP layer.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every span of a facet query
const (
	AttrCollection   = attribute.Key("facets.collection")
	AttrFacetKey     = attribute.Key("facets.key")
	AttrFacetCount   = attribute.Key("facets.count")
	AttrFilterCount  = attribute.Key("facets.filter_count")
	AttrPartial      = attribute.Key("facets.partial")
	AttrTable        = attribute.Key("db.collection.name")
	AttrPageSize     = attribute.Key("pagination.limit")
	AttrPageOffset   = attribute.Key("pagination.offset")
	AttrResultCount  = attribute.Key("result.count")
	AttrTotalCount   = attribute.Key("result.total")
	AttrCacheBackend = attribute.Key("cache.backend")
	AttrCacheHit     = attribute.Key("cache.hit")
)

// StartSpan starts a span on tracer. A nil tracer yields the span already in
// ctx, which is a no-op span when tracing is disabled.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err as an exception event and marks the span failed.
// The status description stays generic; SQL and connection details only
// appear in the event. Nil spans and nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
