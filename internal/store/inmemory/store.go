// Package inmemory provides a Store that evaluates query specs over rows held
// in memory, typically loaded from JSON or YAML files.
package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

// Store holds tables of rows. Tables are never modified after New returns,
// so a Store is safe for concurrent use.
type Store struct {
	tables map[string][]store.Row
}

var _ store.Store = (*Store)(nil)

// New creates a Store over the given tables. Rows are copied.
func New(tables map[string][]store.Row) *Store {
	s := &Store{tables: make(map[string][]store.Row, len(tables))}
	for name, rows := range tables {
		copied := make([]store.Row, len(rows))
		for i, r := range rows {
			copied[i] = maps.Clone(r)
		}
		s.tables[name] = copied
	}
	return s
}

// Tables returns the table names held by the store, sorted
func (s *Store) Tables() []string {
	return slices.Sorted(maps.Keys(s.tables))
}

// Ping always succeeds
func (*Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Query implements store.Store
func (s *Store) Query(ctx context.Context, spec query.Spec) (*store.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched, err := s.filter(spec)
	if err != nil {
		return nil, err
	}

	if spec.Sort != nil && spec.Sort.Column != "" {
		sortRows(matched, *spec.Sort)
	}

	total := int64(len(matched))
	if p := spec.Pagination; p != nil {
		start := min(p.Offset, len(matched))
		end := len(matched)
		if p.Limit > 0 {
			end = min(start+p.Limit, len(matched))
		}
		matched = matched[start:end]
	}

	rows := make([]store.Row, len(matched))
	for i, r := range matched {
		rows[i] = project(r, spec.Columns)
	}

	return &store.Page{Rows: rows, Total: total}, nil
}

// Distinct implements store.Store
func (s *Store) Distinct(ctx context.Context, spec query.Spec) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched, err := s.filter(spec)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := make([]any, 0)
	for _, col := range spec.Columns {
		for _, r := range matched {
			v, ok := r[col]
			if !ok || v == nil {
				continue
			}
			key := filters.CanonicalKey(v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}

	return out, nil
}

func (s *Store) filter(spec query.Spec) ([]store.Row, error) {
	rows, ok := s.tables[spec.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrUnknownTable, spec.Table)
	}

	where := spec.Where()
	for _, p := range where {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", store.ErrUnsupportedSpec, err)
		}
	}

	out := make([]store.Row, 0, len(rows))
	for _, r := range rows {
		if matchesAll(r, where) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesAll(r store.Row, where []query.Predicate) bool {
	for _, p := range where {
		if !matches(r, p) {
			return false
		}
	}
	return true
}

// matches reports whether any of the predicate's columns satisfies it. Null
// and missing values never match.
func matches(r store.Row, p query.Predicate) bool {
	for _, col := range p.Columns {
		v, ok := r[col]
		if !ok || v == nil {
			continue
		}
		if matchValue(v, p) {
			return true
		}
	}
	return false
}

func matchValue(v any, p query.Predicate) bool {
	switch p.Kind {
	case query.KindEquals:
		return compare(v, p.Values[0]) == 0
	case query.KindIn:
		for _, want := range p.Values {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	case query.KindSubstring:
		term, _ := p.Values[0].(string)
		return strings.Contains(strings.ToLower(filters.CanonicalKey(v)), strings.ToLower(term))
	case query.KindRange:
		if p.Min != nil && compare(v, p.Min) < 0 {
			return false
		}
		if p.Max != nil && compare(v, p.Max) > 0 {
			return false
		}
		return true
	case query.KindBefore:
		return compare(v, p.Values[0]) <= 0
	case query.KindAfter:
		return compare(v, p.Values[0]) >= 0
	default:
		return false
	}
}

// compare orders a stored value against a coerced filter value, converting
// the stored value to the filter value's kind first.
func compare(stored, want any) int {
	if kind, ok := kindOf(want); ok {
		if c, err := filters.CoerceValue(kind, stored); err == nil {
			stored = c
		}
	}
	return filters.CompareValues(stored, want)
}

func kindOf(v any) (filters.ValueKind, bool) {
	switch v.(type) {
	case time.Time:
		return filters.KindTime, true
	case bool:
		return filters.KindBool, true
	case string:
		return filters.KindString, true
	case float64, float32, int, int32, int64:
		return filters.KindNumber, true
	default:
		return "", false
	}
}

func sortRows(rows []store.Row, s filters.Sort) {
	slices.SortStableFunc(rows, func(a, b store.Row) int {
		av, bv := a[s.Column], b[s.Column]
		// Nulls sort last in both directions.
		switch {
		case av == nil && bv == nil:
			return 0
		case av == nil:
			return 1
		case bv == nil:
			return -1
		}
		c := compare(av, bv)
		if s.Direction == filters.Desc {
			return -c
		}
		return c
	})
}

func project(r store.Row, columns []string) store.Row {
	out := make(store.Row, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return out
}
