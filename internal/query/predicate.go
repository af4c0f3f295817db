// Package query builds store-agnostic query specifications from filter
// selections, sort, pagination and free-text search.
package query

import (
	"fmt"
)

// PredicateKind tags the variant of a Predicate
type PredicateKind string

const (
	// KindEquals matches rows where a column equals Values[0]
	KindEquals PredicateKind = "equals"
	// KindIn matches rows where a column equals any of Values
	KindIn PredicateKind = "in"
	// KindSubstring matches rows where a column contains Values[0], case-insensitively
	KindSubstring PredicateKind = "substring"
	// KindRange matches rows where a column lies within [Min, Max]; either bound may be nil
	KindRange PredicateKind = "range"
	// KindBefore matches rows where a column is at or before Values[0]
	KindBefore PredicateKind = "before"
	// KindAfter matches rows where a column is at or after Values[0]
	KindAfter PredicateKind = "after"
)

// Predicate is a declarative, serializable row condition. A predicate over
// several columns holds when any of them satisfies it.
type Predicate struct {
	Kind    PredicateKind `json:"kind"`
	Columns []string      `json:"columns"`
	Values  []any         `json:"values,omitempty"`
	Min     any           `json:"min,omitempty"`
	Max     any           `json:"max,omitempty"`
}

// Equals returns an equality predicate
func Equals(columns []string, v any) Predicate {
	return Predicate{Kind: KindEquals, Columns: columns, Values: []any{v}}
}

// In returns a set-membership predicate
func In(columns []string, values ...any) Predicate {
	return Predicate{Kind: KindIn, Columns: columns, Values: values}
}

// Substring returns a case-insensitive substring predicate
func Substring(columns []string, term string) Predicate {
	return Predicate{Kind: KindSubstring, Columns: columns, Values: []any{term}}
}

// Range returns an inclusive range predicate; min or max may be nil
func Range(columns []string, minValue, maxValue any) Predicate {
	return Predicate{Kind: KindRange, Columns: columns, Min: minValue, Max: maxValue}
}

// Before returns an inclusive upper-bound predicate
func Before(columns []string, v any) Predicate {
	return Predicate{Kind: KindBefore, Columns: columns, Values: []any{v}}
}

// After returns an inclusive lower-bound predicate
func After(columns []string, v any) Predicate {
	return Predicate{Kind: KindAfter, Columns: columns, Values: []any{v}}
}

// Validate checks the shape of the predicate
func (p Predicate) Validate() error {
	if len(p.Columns) == 0 {
		return fmt.Errorf("predicate %s: at least one column is required", p.Kind)
	}
	for _, c := range p.Columns {
		if c == "" {
			return fmt.Errorf("predicate %s: empty column name", p.Kind)
		}
	}

	switch p.Kind {
	case KindEquals, KindBefore, KindAfter:
		if len(p.Values) != 1 || p.Values[0] == nil {
			return fmt.Errorf("predicate %s: exactly one value is required", p.Kind)
		}
	case KindSubstring:
		if len(p.Values) != 1 {
			return fmt.Errorf("predicate %s: exactly one value is required", p.Kind)
		}
		if _, ok := p.Values[0].(string); !ok {
			return fmt.Errorf("predicate %s: value must be a string", p.Kind)
		}
	case KindIn:
		if len(p.Values) == 0 {
			return fmt.Errorf("predicate %s: at least one value is required", p.Kind)
		}
	case KindRange:
		if p.Min == nil && p.Max == nil {
			return fmt.Errorf("predicate %s: min or max is required", p.Kind)
		}
	default:
		return fmt.Errorf("unknown predicate kind %q", p.Kind)
	}

	return nil
}
