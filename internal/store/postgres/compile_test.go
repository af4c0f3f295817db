package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

func TestCompilePage(t *testing.T) {
	t.Parallel()

	launched := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := query.Spec{
		Table:   "public.funds",
		Columns: []string{"fund_name", "category", "rating"},
		Predicates: []query.Predicate{
			query.In([]string{"category"}, "Equity", "Bond"),
			query.Range([]string{"rating"}, 3.0, nil),
			query.After([]string{"launched_at"}, launched),
		},
		Search:     &query.Search{Columns: []string{"fund_name", "category"}, Term: "50%_off"},
		Sort:       &filters.Sort{Column: "rating", Direction: filters.Desc},
		Pagination: &query.Pagination{Offset: 20, Limit: 10},
	}

	stmt, err := compilePage(spec)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "fund_name", "category", "rating" FROM "public"."funds"`+
			` WHERE "category" IN ($1::text, $2::text)`+
			` AND ("rating" >= $3::numeric)`+
			` AND "launched_at" >= $4::timestamptz`+
			` AND ("fund_name"::text ILIKE $5::text OR "category"::text ILIKE $6::text)`+
			` ORDER BY "rating" DESC NULLS LAST LIMIT $7 OFFSET $8`,
		stmt.sql)
	assert.Equal(t, []any{
		"Equity", "Bond", 3.0, launched, `%50\%\_off%`, `%50\%\_off%`, int64(10), int64(20),
	}, stmt.args)
}

func TestCompileCountSharesWhere(t *testing.T) {
	t.Parallel()

	spec := query.Spec{
		Table:      "funds",
		Columns:    []string{"fund_name"},
		Predicates: []query.Predicate{query.Equals([]string{"category"}, "Equity")},
		Sort:       &filters.Sort{Column: "fund_name"},
		Pagination: &query.Pagination{Limit: 5},
	}

	count, err := compileCount(spec)
	require.NoError(t, err)
	page, err := compilePage(spec)
	require.NoError(t, err)

	assert.Equal(t, `SELECT count(*) FROM "funds" WHERE "category" = $1::text`, count.sql)
	assert.Contains(t, page.sql, ` WHERE "category" = $1::text ORDER BY "fund_name" ASC NULLS LAST LIMIT $2`)
	assert.Equal(t, count.args, page.args[:len(count.args)])
}

func TestCompileDistinct(t *testing.T) {
	t.Parallel()

	stmt, err := compileDistinct(query.Spec{
		Table:      "funds",
		Columns:    []string{"category", "sub_category"},
		Predicates: []query.Predicate{query.Range([]string{"rating"}, 1.0, 5.0)},
		Distinct:   true,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT DISTINCT "category" AS value FROM "funds" WHERE ("rating" >= $1::numeric AND "rating" <= $2::numeric) AND "category" IS NOT NULL`+
			` UNION `+
			`SELECT DISTINCT "sub_category" AS value FROM "funds" WHERE ("rating" >= $1::numeric AND "rating" <= $2::numeric) AND "sub_category" IS NOT NULL`,
		stmt.sql)
	assert.Equal(t, []any{1.0, 5.0}, stmt.args)

	stmt, err = compileDistinct(query.Spec{Table: "funds", Columns: []string{"category"}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT DISTINCT "category" AS value FROM "funds" WHERE "category" IS NOT NULL`, stmt.sql)
	assert.Empty(t, stmt.args)
}

func TestCompileQuotesIdentifiers(t *testing.T) {
	t.Parallel()

	stmt, err := compileCount(query.Spec{
		Table:      `funds"; DROP TABLE funds; --`,
		Predicates: []query.Predicate{query.Equals([]string{`a"b`}, "x")},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT count(*) FROM "funds""; DROP TABLE funds; --" WHERE "a""b" = $1::text`, stmt.sql)
}

func TestCompileRejectsInvalidSpecs(t *testing.T) {
	t.Parallel()

	_, err := compilePage(query.Spec{Table: "funds"})
	require.ErrorIs(t, err, store.ErrUnsupportedSpec)

	_, err = compileDistinct(query.Spec{Table: "funds"})
	require.ErrorIs(t, err, store.ErrUnsupportedSpec)

	_, err = compileCount(query.Spec{
		Table:      "funds",
		Predicates: []query.Predicate{{Kind: query.KindIn, Columns: []string{"category"}}},
	})
	require.ErrorIs(t, err, store.ErrUnsupportedSpec)
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `growth`, escapeLike("growth"))
	assert.Equal(t, `a\\b\%c\_d`, escapeLike(`a\b%c_d`))
}
