package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

// statement is parameterised SQL and its arguments
type statement struct {
	sql  string
	args []any
}

// compiler accumulates positional arguments while rendering SQL
type compiler struct {
	args []any
}

func (c *compiler) param(v any) string {
	return c.bare(v) + castFor(v)
}

// bare adds an argument without a type cast
func (c *compiler) bare(v any) string {
	c.args = append(c.args, v)
	return "$" + strconv.Itoa(len(c.args))
}

// castFor pins the parameter type so a value compares against the column
// with the operator of its kind rather than whatever Postgres infers.
func castFor(v any) string {
	switch v.(type) {
	case string:
		return "::text"
	case float64, float32, int, int32, int64:
		return "::numeric"
	case time.Time:
		return "::timestamptz"
	case bool:
		return "::boolean"
	default:
		return ""
	}
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// quoteTable quotes a possibly schema-qualified table name
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// escapeLike escapes the LIKE wildcards of a literal search term
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

func (c *compiler) where(spec query.Spec) (string, error) {
	preds := spec.Where()
	if len(preds) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		clause, err := c.predicate(p)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func (c *compiler) predicate(p query.Predicate) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", store.ErrUnsupportedSpec, err)
	}

	terms := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		terms = append(terms, c.columnTerm(quoteIdent(col), p))
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return "(" + strings.Join(terms, " OR ") + ")", nil
}

func (c *compiler) columnTerm(col string, p query.Predicate) string {
	switch p.Kind {
	case query.KindEquals:
		return col + " = " + c.param(p.Values[0])
	case query.KindIn:
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = c.param(v)
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")"
	case query.KindSubstring:
		term, _ := p.Values[0].(string)
		return col + "::text ILIKE " + c.param("%"+escapeLike(term)+"%")
	case query.KindRange:
		var parts []string
		if p.Min != nil {
			parts = append(parts, col+" >= "+c.param(p.Min))
		}
		if p.Max != nil {
			parts = append(parts, col+" <= "+c.param(p.Max))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case query.KindBefore:
		return col + " <= " + c.param(p.Values[0])
	case query.KindAfter:
		return col + " >= " + c.param(p.Values[0])
	}
	// unreachable after Validate
	return "FALSE"
}

func projection(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

// compileCount renders the row count under the spec's predicates
func compileCount(spec query.Spec) (statement, error) {
	var c compiler
	where, err := c.where(spec)
	if err != nil {
		return statement{}, err
	}
	return statement{
		sql:  "SELECT count(*) FROM " + quoteTable(spec.Table) + where,
		args: c.args,
	}, nil
}

// compilePage renders the sorted, paginated row select. It shares the WHERE
// clause rendering with compileCount so both see the same predicates.
func compilePage(spec query.Spec) (statement, error) {
	if len(spec.Columns) == 0 {
		return statement{}, fmt.Errorf("%w: no projected columns", store.ErrUnsupportedSpec)
	}

	var c compiler
	where, err := c.where(spec)
	if err != nil {
		return statement{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(projection(spec.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteTable(spec.Table))
	sb.WriteString(where)

	if s := spec.Sort; s != nil && s.Column != "" {
		dir := "ASC"
		if s.Direction == filters.Desc {
			dir = "DESC"
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteIdent(s.Column))
		sb.WriteString(" " + dir + " NULLS LAST")
	}

	if p := spec.Pagination; p != nil {
		if p.Limit > 0 {
			sb.WriteString(" LIMIT " + c.bare(int64(p.Limit)))
		}
		if p.Offset > 0 {
			sb.WriteString(" OFFSET " + c.bare(int64(p.Offset)))
		}
	}

	return statement{sql: sb.String(), args: c.args}, nil
}

// compileDistinct renders the union of the distinct non-null values of every
// projected column. Placeholders are shared between the UNION branches.
func compileDistinct(spec query.Spec) (statement, error) {
	if len(spec.Columns) == 0 {
		return statement{}, fmt.Errorf("%w: no projected columns", store.ErrUnsupportedSpec)
	}

	var c compiler
	where, err := c.where(spec)
	if err != nil {
		return statement{}, err
	}

	table := quoteTable(spec.Table)
	branches := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		qc := quoteIdent(col)
		notNull := qc + " IS NOT NULL"
		if where == "" {
			notNull = " WHERE " + notNull
		} else {
			notNull = where + " AND " + notNull
		}
		branches[i] = "SELECT DISTINCT " + qc + " AS value FROM " + table + notNull
	}

	return statement{sql: strings.Join(branches, " UNION "), args: c.args}, nil
}
