// Package engine runs faceted table queries: one page of rows plus, for each
// filter dimension, the options still reachable under the other selections.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/otel"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

// Request is one faceted query against a collection
type Request struct {
	Collection string `json:"collection"`
	// FilterKeys selects the dimensions that receive facets; empty selects all
	FilterKeys []string                `json:"filterKeys,omitempty"`
	Filters    query.ServerSideFilters `json:"filters,omitempty"`
	// SearchColumns defaults to the collection's search columns
	SearchColumns []string          `json:"searchColumns,omitempty"`
	Search        string            `json:"search,omitempty"`
	Sort          *filters.Sort     `json:"sort,omitempty"`
	Pagination    *query.Pagination `json:"pagination,omitempty"`
	// Scope restricts rows and facets to what the caller may see. It is set
	// by the server, never decoded from a client body.
	Scope []query.Predicate `json:"-"`
}

// Response is the boundary form of a query outcome
type Response struct {
	Success bool        `json:"success"`
	Data    *ResultPage `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    ErrorKind   `json:"-"`
}

// Engine answers faceted queries over the collections of a Registry
type Engine struct {
	registry *filters.Registry
	executor *Executor
	resolver *Resolver
	settings
}

// New creates an Engine
func New(registry *filters.Registry, executor *Executor, opts ...Option) *Engine {
	s := newSettings(opts)
	return &Engine{
		registry: registry,
		executor: executor,
		resolver: &Resolver{executor: executor, settings: s},
		settings: s,
	}
}

// Describe returns the filter configuration of a collection
func (e *Engine) Describe(collection string) (*filters.Configuration, error) {
	return e.registry.Describe(collection)
}

// Collections lists the queryable collections
func (e *Engine) Collections() []string {
	return e.registry.Collections()
}

// Ping checks the backing store
func (e *Engine) Ping(ctx context.Context) error {
	return e.executor.Ping(ctx)
}

// Run validates req, then fetches the row page and resolves the facets
// concurrently. A row query failure fails the request and cancels the facet
// queries. A facet failure only degrades the result.
func (e *Engine) Run(ctx context.Context, req Request) (_ *ResultPage, retErr error) {
	ctx, span := otel.StartSpan(ctx, e.tracer, "engine.Run",
		trace.WithAttributes(
			otel.AttrCollection.String(req.Collection),
			otel.AttrFilterCount.Int(len(req.Filters)),
		),
	)
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	start := time.Now()

	cfg, err := e.registry.Describe(req.Collection)
	if err != nil {
		return nil, err
	}
	if err := query.ValidateKeys(cfg, req.FilterKeys); err != nil {
		return nil, err
	}

	spec, err := e.builder.Build(cfg, query.Request{
		Filters:    req.Filters,
		Sort:       req.Sort,
		Pagination: req.Pagination,
		Search:     &query.Search{Columns: req.SearchColumns, Term: req.Search},
		Scope:      req.Scope,
	})
	if err != nil {
		return nil, err
	}

	var (
		page   *store.Page
		facets *Facets
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = e.executor.Execute(gctx, spec)
		return err
	})
	g.Go(func() error {
		var err error
		facets, err = e.resolver.Resolve(gctx, cfg, ResolveRequest{
			Keys:    req.FilterKeys,
			Filters: req.Filters,
			Search:  spec.Search,
			Scope:   req.Scope,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result, err := Assemble(page, facets)
	if err != nil {
		return nil, err
	}
	if result.Partial {
		e.metrics.RecordPartialResult(ctx, cfg.Collection)
	}

	span.SetAttributes(
		otel.AttrResultCount.Int(len(result.Rows)),
		otel.AttrTotalCount.Int64(result.TotalCount),
		otel.AttrPartial.Bool(result.Partial),
	)
	slog.DebugContext(ctx, "Query completed",
		"collection", cfg.Collection,
		"rows", len(result.Rows),
		"total", result.TotalCount,
		"facets", len(result.Facets),
		"partial", result.Partial,
		"duration", time.Since(start))

	return result, nil
}

// Query runs req and never returns an error: failures are reported in the
// Response with their kind.
func (e *Engine) Query(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Query panicked", "collection", req.Collection, "panic", r)
			resp = Response{
				Error: fmt.Sprintf("internal error: %v", r),
				Kind:  ErrorKindInternal,
			}
		}
	}()

	result, err := e.Run(ctx, req)
	if err != nil {
		kind := Classify(err)
		if kind == ErrorKindExecution || kind == ErrorKindInternal {
			slog.ErrorContext(ctx, "Query failed", "collection", req.Collection, "kind", kind, "error", err)
		}
		return Response{Error: err.Error(), Kind: kind}
	}
	return Response{Success: true, Data: result}
}
