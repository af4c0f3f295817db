package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/stacklok/facet-query-server/internal/otel"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/telemetry"
)

// DefaultMaxConcurrency bounds the store queries in flight across all requests
const DefaultMaxConcurrency = 16

// Executor sends query specs to the backing store. A weighted semaphore
// shared by every request bounds the number of queries in flight.
type Executor struct {
	store   store.Store
	sem     *semaphore.Weighted
	limit   int64
	tracer  trace.Tracer
	metrics *telemetry.EngineMetrics
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithMaxConcurrency sets the maximum number of store queries in flight
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.limit = int64(n)
		}
	}
}

// WithExecutorMetrics sets the metrics the executor records query durations on
func WithExecutorMetrics(m *telemetry.EngineMetrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithExecutorTracer sets the tracer of the executor
func WithExecutorTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// NewExecutor creates an Executor over s
func NewExecutor(s store.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store: s,
		limit: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(e.limit)
	return e
}

// Execute returns the page and total count selected by spec. It does not retry.
func (e *Executor) Execute(ctx context.Context, spec query.Spec) (_ *store.Page, retErr error) {
	ctx, span := e.startSpan(ctx, OpQuery, spec)
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	if err := e.acquire(ctx, OpQuery, spec); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	start := time.Now()
	page, err := e.store.Query(ctx, spec)
	e.metrics.RecordQueryDuration(ctx, spec.Collection, telemetry.QueryKindRows, time.Since(start), err == nil)
	if err != nil {
		return nil, &QueryExecutionError{Op: OpQuery, Collection: spec.Collection, Err: err}
	}
	if page == nil {
		return nil, &QueryExecutionError{
			Op: OpQuery, Collection: spec.Collection, Err: fmt.Errorf("store returned no page"),
		}
	}
	return page, nil
}

// Distinct returns the distinct values of the spec's projected columns. It
// does not retry.
func (e *Executor) Distinct(ctx context.Context, spec query.Spec) (_ []any, retErr error) {
	ctx, span := e.startSpan(ctx, OpDistinct, spec)
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	if err := e.acquire(ctx, OpDistinct, spec); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	start := time.Now()
	values, err := e.store.Distinct(ctx, spec)
	e.metrics.RecordQueryDuration(ctx, spec.Collection, telemetry.QueryKindFacet, time.Since(start), err == nil)
	if err != nil {
		return nil, &QueryExecutionError{Op: OpDistinct, Collection: spec.Collection, Key: spec.Facet, Err: err}
	}
	return values, nil
}

// Ping checks the backing store
func (e *Executor) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Executor) startSpan(ctx context.Context, op string, spec query.Spec) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		otel.AttrCollection.String(spec.Collection),
		otel.AttrFilterCount.Int(len(spec.Predicates)),
	}
	if spec.Facet != "" {
		attrs = append(attrs, otel.AttrFacetKey.String(spec.Facet))
	}
	if p := spec.Pagination; p != nil {
		attrs = append(attrs, otel.AttrPageSize.Int(p.Limit), otel.AttrPageOffset.Int(p.Offset))
	}
	return otel.StartSpan(ctx, e.tracer, "executor."+op, trace.WithAttributes(attrs...))
}

func (e *Executor) acquire(ctx context.Context, op string, spec query.Spec) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return &QueryExecutionError{Op: op, Collection: spec.Collection, Key: spec.Facet, Err: err}
	}
	return nil
}
