package query

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/stacklok/facet-query-server/internal/filters"
)

var (
	// ErrInvalidFilterKey is returned when a filter key is not configured for the collection
	ErrInvalidFilterKey = errors.New("invalid filter key")
	// ErrInvalidFilterValue is returned when a filter value does not fit its operator or kind
	ErrInvalidFilterValue = errors.New("invalid filter value")
	// ErrInvalidPagination is returned for a negative offset
	ErrInvalidPagination = errors.New("invalid pagination")
	// ErrInvalidSearchColumn is returned when a search column is not a projected column
	ErrInvalidSearchColumn = errors.New("invalid search column")
)

const (
	// DefaultPageSize is the page size used when a request names none
	DefaultPageSize = 25
	// DefaultMaxPageSize caps the page size of any request
	DefaultMaxPageSize = 500
)

// Request is the caller's view of one table query
type Request struct {
	Filters    ServerSideFilters
	Sort       *filters.Sort
	Pagination *Pagination
	// Search term; Columns may be empty to use the collection's search columns
	Search *Search
	// Scope holds pre-authorized row scope predicates applied to every query
	Scope []Predicate
}

// Builder turns requests into query specs. It performs no I/O and is safe
// for concurrent use.
type Builder struct {
	defaultPageSize int
	maxPageSize     int
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithDefaultPageSize sets the page size used when a request names none
func WithDefaultPageSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.defaultPageSize = n
		}
	}
}

// WithMaxPageSize sets the upper bound page sizes are clamped to
func WithMaxPageSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxPageSize = n
		}
	}
}

// NewBuilder creates a Builder
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		defaultPageSize: DefaultPageSize,
		maxPageSize:     DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.defaultPageSize > b.maxPageSize {
		b.defaultPageSize = b.maxPageSize
	}
	return b
}

// Build returns the row page spec for req
func (b *Builder) Build(cfg *filters.Configuration, req Request) (Spec, error) {
	predicates, err := b.predicates(cfg, req, "")
	if err != nil {
		return Spec{}, err
	}

	search, err := resolveSearch(cfg, req.Search)
	if err != nil {
		return Spec{}, err
	}

	page, err := b.pagination(req.Pagination)
	if err != nil {
		return Spec{}, err
	}

	srt := resolveSort(cfg, req.Sort)

	return Spec{
		Collection: cfg.Collection,
		Table:      cfg.Table,
		Columns:    slices.Clone(cfg.Columns),
		Predicates: predicates,
		Search:     search,
		Sort:       &srt,
		Pagination: &page,
	}, nil
}

// BuildFacet returns the distinct-values spec for the dimension key: every
// filter of req except key's own, projecting only key's columns.
func (b *Builder) BuildFacet(cfg *filters.Configuration, key string, req Request) (Spec, error) {
	d, ok := cfg.Descriptor(key)
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidFilterKey, key)
	}

	predicates, err := b.predicates(cfg, req, key)
	if err != nil {
		return Spec{}, err
	}

	search, err := resolveSearch(cfg, req.Search)
	if err != nil {
		return Spec{}, err
	}

	return Spec{
		Collection: cfg.Collection,
		Table:      cfg.Table,
		Columns:    slices.Clone(d.Columns),
		Predicates: predicates,
		Search:     search,
		Distinct:   true,
		Facet:      key,
	}, nil
}

// ValidateFilters checks that every key of fs is configured and every value
// fits its descriptor.
func ValidateFilters(cfg *filters.Configuration, fs ServerSideFilters) error {
	if err := validateKeys(cfg, fs); err != nil {
		return err
	}
	for key, v := range fs {
		d, _ := cfg.Descriptor(key)
		if _, _, err := PredicateFor(d, v); err != nil {
			return err
		}
	}
	return nil
}

func (*Builder) predicates(cfg *filters.Configuration, req Request, exclude string) ([]Predicate, error) {
	if err := validateKeys(cfg, req.Filters); err != nil {
		return nil, err
	}

	out := make([]Predicate, 0, len(req.Scope)+len(req.Filters))
	for _, p := range req.Scope {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: scope: %w", ErrInvalidFilterValue, err)
		}
		out = append(out, p)
	}

	// Configuration order keeps the output independent of map iteration.
	for _, d := range cfg.Descriptors() {
		v, ok := req.Filters[d.Key]
		if !ok || d.Key == exclude {
			continue
		}
		p, ok, err := PredicateFor(d, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}

	return out, nil
}

func validateKeys(cfg *filters.Configuration, fs ServerSideFilters) error {
	keys := make([]string, 0, len(fs))
	for key := range fs {
		keys = append(keys, key)
	}
	return ValidateKeys(cfg, keys)
}

// ValidateKeys returns ErrInvalidFilterKey naming every key the collection
// does not configure.
func ValidateKeys(cfg *filters.Configuration, keys []string) error {
	var unknown []string
	for _, key := range keys {
		if _, ok := cfg.Descriptor(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	unknown = slices.Compact(unknown)
	return fmt.Errorf("%w: %s not configured for collection %q",
		ErrInvalidFilterKey, strings.Join(quoteAll(unknown), ", "), cfg.Collection)
}

// PredicateFor translates one filter selection into a predicate. It reports
// false when the selection is empty and constrains nothing.
func PredicateFor(d filters.Descriptor, v FilterValue) (Predicate, bool, error) {
	if v.IsEmpty() {
		return Predicate{}, false, nil
	}

	invalid := func(format string, args ...any) (Predicate, bool, error) {
		return Predicate{}, false, fmt.Errorf("%w: filter %q: %s", ErrInvalidFilterValue, d.Key, fmt.Sprintf(format, args...))
	}

	if v.IsRange() && d.Operator != filters.OpRange {
		return invalid("operator %s does not accept a range", d.Operator)
	}

	values := make([]any, len(v.Values))
	for i, raw := range v.Values {
		c, err := filters.CoerceValue(d.Kind, raw)
		if err != nil {
			return invalid("%v", err)
		}
		values[i] = c
	}

	columns := slices.Clone(d.Columns)

	switch d.Operator {
	case filters.OpEquals:
		if len(values) != 1 {
			return invalid("operator equals takes exactly one value, got %d", len(values))
		}
		return Equals(columns, values[0]), true, nil

	case filters.OpIn:
		return In(columns, dedupe(values)...), true, nil

	case filters.OpILike:
		if len(values) != 1 {
			return invalid("operator ilike takes exactly one value, got %d", len(values))
		}
		term, _ := values[0].(string)
		if term == "" {
			return Predicate{}, false, nil
		}
		return Substring(columns, term), true, nil

	case filters.OpRange:
		if !v.IsRange() {
			// A single value selects the degenerate range [v, v].
			if len(values) != 1 {
				return invalid("operator range takes a {min, max} object or one value, got %d values", len(values))
			}
			return Range(columns, values[0], values[0]), true, nil
		}
		minValue, err := coerceBound(d.Kind, v.Min)
		if err != nil {
			return invalid("min: %v", err)
		}
		maxValue, err := coerceBound(d.Kind, v.Max)
		if err != nil {
			return invalid("max: %v", err)
		}
		if minValue != nil && maxValue != nil && filters.CompareValues(minValue, maxValue) > 0 {
			return invalid("min is greater than max")
		}
		return Range(columns, minValue, maxValue), true, nil

	case filters.OpBefore, filters.OpAfter:
		if len(values) != 1 {
			return invalid("operator %s takes exactly one value, got %d", d.Operator, len(values))
		}
		if d.Operator == filters.OpBefore {
			return Before(columns, values[0]), true, nil
		}
		return After(columns, values[0]), true, nil
	}

	return invalid("unsupported operator %q", d.Operator)
}

func coerceBound(kind filters.ValueKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return filters.CoerceValue(kind, v)
}

func dedupe(values []any) []any {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		k := filters.CanonicalKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func resolveSearch(cfg *filters.Configuration, s *Search) (*Search, error) {
	if s == nil {
		return nil, nil
	}
	term := strings.TrimSpace(s.Term)
	if term == "" {
		return nil, nil
	}

	columns := s.Columns
	if len(columns) == 0 {
		columns = cfg.SearchColumns
	}
	if len(columns) == 0 {
		return nil, nil
	}
	for _, c := range columns {
		if !cfg.IsProjected(c) {
			return nil, fmt.Errorf("%w: %q is not a column of collection %q", ErrInvalidSearchColumn, c, cfg.Collection)
		}
	}

	return &Search{Columns: slices.Clone(columns), Term: term}, nil
}

func resolveSort(cfg *filters.Configuration, s *filters.Sort) filters.Sort {
	if s == nil || s.Column == "" || !cfg.IsSortable(s.Column) {
		return cfg.DefaultSort
	}
	return filters.Sort{Column: s.Column, Direction: filters.ParseDirection(string(s.Direction))}
}

func (b *Builder) pagination(p *Pagination) (Pagination, error) {
	if p == nil {
		return Pagination{Offset: 0, Limit: b.defaultPageSize}, nil
	}
	if p.Offset < 0 {
		return Pagination{}, fmt.Errorf("%w: offset %d is negative", ErrInvalidPagination, p.Offset)
	}
	limit := p.Limit
	switch {
	case limit <= 0:
		limit = b.defaultPageSize
	case limit > b.maxPageSize:
		limit = b.maxPageSize
	}
	return Pagination{Offset: p.Offset, Limit: limit}, nil
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
