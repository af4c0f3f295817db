package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

func loadFunds(t *testing.T) *Store {
	t.Helper()
	s, err := LoadDir("testdata")
	require.NoError(t, err)
	return s
}

func names(page *store.Page) []any {
	out := make([]any, len(page.Rows))
	for i, r := range page.Rows {
		out[i] = r["fund_name"]
	}
	return out
}

func rowSpec(predicates ...query.Predicate) query.Spec {
	return query.Spec{
		Table:      "funds",
		Columns:    []string{"fund_name", "category", "rating"},
		Predicates: predicates,
		Sort:       &filters.Sort{Column: "fund_name", Direction: filters.Asc},
		Pagination: &query.Pagination{Limit: 10},
	}
}

func TestQueryPredicates(t *testing.T) {
	t.Parallel()

	s := loadFunds(t)
	launched := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec query.Spec
		want []any
	}{
		{
			name: "no predicates",
			spec: rowSpec(),
			want: []any{"Alpha Growth", "Beta Income", "Delta Balanced", "Gamma Growth"},
		},
		{
			name: "in",
			spec: rowSpec(query.In([]string{"category"}, "Equity", "Hybrid")),
			want: []any{"Alpha Growth", "Delta Balanced", "Gamma Growth"},
		},
		{
			name: "equals",
			spec: rowSpec(query.Equals([]string{"category"}, "Bond")),
			want: []any{"Beta Income"},
		},
		{
			name: "range skips nulls",
			spec: rowSpec(query.Range([]string{"rating"}, 0.0, 4.0)),
			want: []any{"Beta Income", "Gamma Growth"},
		},
		{
			name: "after time",
			spec: rowSpec(query.After([]string{"launched_at"}, launched)),
			want: []any{"Alpha Growth", "Gamma Growth"},
		},
		{
			name: "before time",
			spec: rowSpec(query.Before([]string{"launched_at"}, launched)),
			want: []any{"Beta Income", "Delta Balanced"},
		},
		{
			name: "after includes the bound",
			spec: rowSpec(query.After([]string{"launched_at"}, time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC))),
			want: []any{"Gamma Growth"},
		},
		{
			name: "before includes the bound",
			spec: rowSpec(query.Before([]string{"launched_at"}, time.Date(2015, 9, 15, 0, 0, 0, 0, time.UTC))),
			want: []any{"Beta Income"},
		},
		{
			name: "case-insensitive substring",
			spec: func() query.Spec {
				sp := rowSpec()
				sp.Search = &query.Search{Columns: []string{"fund_name"}, Term: "GROWTH"}
				return sp
			}(),
			want: []any{"Alpha Growth", "Gamma Growth"},
		},
		{
			name: "any column matches",
			spec: rowSpec(query.Substring([]string{"fund_name", "category"}, "bond")),
			want: []any{"Beta Income"},
		},
		{
			name: "predicates are ANDed",
			spec: rowSpec(
				query.In([]string{"category"}, "Equity"),
				query.Range([]string{"rating"}, 5.0, nil),
			),
			want: []any{"Alpha Growth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			page, err := s.Query(context.Background(), tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(page))
			assert.Equal(t, int64(len(tt.want)), page.Total)
		})
	}
}

func TestQuerySortAndPaginate(t *testing.T) {
	t.Parallel()

	s := loadFunds(t)
	spec := rowSpec()
	spec.Sort = &filters.Sort{Column: "rating", Direction: filters.Desc}
	spec.Pagination = &query.Pagination{Offset: 1, Limit: 2}

	page, err := s.Query(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total, "total ignores pagination")
	assert.Equal(t, []any{"Gamma Growth", "Beta Income"}, names(page))

	spec.Pagination = &query.Pagination{Offset: 10, Limit: 2}
	page, err = s.Query(context.Background(), spec)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.Equal(t, int64(4), page.Total)

	spec.Sort = &filters.Sort{Column: "rating", Direction: filters.Asc}
	spec.Pagination = &query.Pagination{Limit: 10}
	page, err = s.Query(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "Delta Balanced", page.Rows[3]["fund_name"], "nulls sort last")
}

func TestQueryProjects(t *testing.T) {
	t.Parallel()

	page, err := loadFunds(t).Query(context.Background(), rowSpec())
	require.NoError(t, err)
	for _, r := range page.Rows {
		assert.NotContains(t, r, "launched_at")
	}
}

func TestDistinct(t *testing.T) {
	t.Parallel()

	s := loadFunds(t)

	vals, err := s.Distinct(context.Background(), query.Spec{Table: "funds", Columns: []string{"category"}, Distinct: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"Equity", "Bond", "Hybrid"}, vals)

	vals, err = s.Distinct(context.Background(), query.Spec{
		Table:      "funds",
		Columns:    []string{"rating"},
		Predicates: []query.Predicate{query.In([]string{"category"}, "Equity", "Hybrid")},
		Distinct:   true,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{5.0, 4.0}, vals, "nulls are not distinct values")

	vals, err = s.Distinct(context.Background(), query.Spec{
		Table:      "funds",
		Columns:    []string{"category"},
		Predicates: []query.Predicate{query.Equals([]string{"category"}, "Commodity")},
		Distinct:   true,
	})
	require.NoError(t, err)
	assert.Empty(t, vals)
	assert.NotNil(t, vals)
}

func TestDistinctMergesColumns(t *testing.T) {
	t.Parallel()

	s := New(map[string][]store.Row{
		"t": {
			{"a": "x", "b": "y"},
			{"a": "y", "b": "z"},
		},
	})
	vals, err := s.Distinct(context.Background(), query.Spec{Table: "t", Columns: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "z"}, vals)
}

func TestQueryErrors(t *testing.T) {
	t.Parallel()

	s := loadFunds(t)

	_, err := s.Query(context.Background(), query.Spec{Table: "missing"})
	require.ErrorIs(t, err, store.ErrUnknownTable)

	_, err = s.Query(context.Background(), rowSpec(query.Predicate{Kind: "regex", Columns: []string{"x"}}))
	require.ErrorIs(t, err, store.ErrUnsupportedSpec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Query(ctx, rowSpec())
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Distinct(ctx, rowSpec())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.Ping(ctx), context.Canceled)
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	s, err := LoadDir("testdata/yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"regions"}, s.Tables())

	vals, err := s.Distinct(context.Background(), query.Spec{Table: "regions", Columns: []string{"code"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"EU", "NA"}, vals)

	_, err = LoadDir("testdata/does-not-exist")
	require.Error(t, err)
}

func TestNewCopiesRows(t *testing.T) {
	t.Parallel()

	rows := []store.Row{{"a": "x"}}
	s := New(map[string][]store.Row{"t": rows})
	rows[0]["a"] = "mutated"

	vals, err := s.Distinct(context.Background(), query.Spec{Table: "t", Columns: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, vals)
}
