package engine

import (
	"context"
	"log/slog"
	"slices"
	"sort"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/otel"
	"github.com/stacklok/facet-query-server/internal/query"
)

// FacetOption is one reachable value of a filter dimension
type FacetOption struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// OptionSet is the ordered option list of one dimension
type OptionSet []FacetOption

// Facets is the outcome of resolving every requested dimension. Keys that
// could not be computed are absent from Options and listed in Degraded.
type Facets struct {
	Options  map[string]OptionSet
	Degraded []string
}

// ResolveRequest selects the dimensions to resolve and the constraints they
// are resolved under.
type ResolveRequest struct {
	// Keys to resolve; empty resolves every configured key
	Keys    []string
	Filters query.ServerSideFilters
	Search  *query.Search
	Scope   []query.Predicate
}

// Resolver computes, for each dimension, the options reachable under every
// other active filter.
type Resolver struct {
	executor *Executor
	settings
}

// NewResolver creates a Resolver issuing its queries through executor
func NewResolver(executor *Executor, opts ...Option) *Resolver {
	return &Resolver{executor: executor, settings: newSettings(opts)}
}

// Resolve returns the option set of every requested key. Each key is queried
// concurrently with its own selection removed. A dimension whose prerequisite
// is unset gets an empty set without a query. A failing dimension is logged
// and reported in Degraded. Only validation errors and cancellation fail the
// call. Selected values that are no longer reachable are left for the caller
// to reconcile.
func (r *Resolver) Resolve(ctx context.Context, cfg *filters.Configuration, req ResolveRequest) (*Facets, error) {
	ctx, span := otel.StartSpan(ctx, r.tracer, "engine.Resolve",
		trace.WithAttributes(otel.AttrCollection.String(cfg.Collection)),
	)
	defer span.End()

	keys := req.Keys
	if len(keys) == 0 {
		keys = cfg.Keys()
	}
	descriptors, err := lookupDescriptors(cfg, keys)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if err := query.ValidateFilters(cfg, req.Filters); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	results := make([]OptionSet, len(descriptors))
	failures := make([]error, len(descriptors))
	base := query.Request{Filters: req.Filters, Search: req.Search, Scope: req.Scope}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxFanout)

	for i, d := range descriptors {
		if d.DependsOn != "" && !isSet(req.Filters, d.DependsOn) {
			results[i] = OptionSet{}
			continue
		}

		g.Go(func() error {
			opts, err := r.resolveOne(gctx, cfg, d, base)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			results[i] = opts
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	facets := &Facets{Options: make(map[string]OptionSet, len(descriptors))}
	for i, d := range descriptors {
		if err := failures[i]; err != nil {
			slog.WarnContext(ctx, "Facet query failed, omitting facet from response",
				"collection", cfg.Collection,
				"key", d.Key,
				"error", err)
			r.metrics.RecordFacetFailure(ctx, cfg.Collection, d.Key)
			span.AddEvent("facet degraded", trace.WithAttributes(otel.AttrFacetKey.String(d.Key)))
			facets.Degraded = append(facets.Degraded, d.Key)
			continue
		}
		facets.Options[d.Key] = results[i]
	}
	sort.Strings(facets.Degraded)

	span.SetAttributes(
		otel.AttrFacetCount.Int(len(facets.Options)),
		otel.AttrPartial.Bool(len(facets.Degraded) > 0),
	)
	return facets, nil
}

func (r *Resolver) resolveOne(
	ctx context.Context, cfg *filters.Configuration, d filters.Descriptor, base query.Request,
) (OptionSet, error) {
	spec, err := r.builder.BuildFacet(cfg, d.Key, base)
	if err != nil {
		return nil, err
	}

	values, err := r.executor.Distinct(ctx, spec)
	if err != nil {
		return nil, err
	}

	return buildOptions(d, values), nil
}

// buildOptions labels, deduplicates and orders raw distinct values
func buildOptions(d filters.Descriptor, values []any) OptionSet {
	seen := make(map[string]struct{}, len(values))
	out := make(OptionSet, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		key := filters.CanonicalKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, FacetOption{Value: v, Label: d.Label.Render(v)})
	}

	slices.SortStableFunc(out, func(a, b FacetOption) int {
		return d.CompareOptions(a.Value, b.Value)
	})
	return out
}

func lookupDescriptors(cfg *filters.Configuration, keys []string) ([]filters.Descriptor, error) {
	if err := query.ValidateKeys(cfg, keys); err != nil {
		return nil, err
	}

	out := make([]filters.Descriptor, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		d, _ := cfg.Descriptor(k)
		out = append(out, d)
	}
	return out, nil
}

// isSet reports whether key carries an effective selection
func isSet(fs query.ServerSideFilters, key string) bool {
	v, ok := fs[key]
	return ok && !v.IsEmpty()
}
