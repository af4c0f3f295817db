// Package filters holds the filter configuration registry: the static, read-only
// description of every filterable dimension of every queryable collection.
package filters

import (
	"fmt"
	"slices"
)

// Operator is the comparison a filter dimension applies to its column(s)
type Operator string

const (
	// OpEquals matches a single value exactly
	OpEquals Operator = "equals"
	// OpIn matches any value of a set
	OpIn Operator = "in"
	// OpILike matches a case-insensitive substring
	OpILike Operator = "ilike"
	// OpRange matches values within inclusive min/max bounds
	OpRange Operator = "range"
	// OpBefore matches values ordered at or before a bound
	OpBefore Operator = "before"
	// OpAfter matches values ordered at or after a bound. Both are inclusive
	// so every distinct value offered as a facet option matches its own row.
	OpAfter Operator = "after"
)

// ValueKind is the type filter values are coerced to
type ValueKind string

const (
	// KindString is the default value kind
	KindString ValueKind = "string"
	// KindNumber values are compared numerically
	KindNumber ValueKind = "number"
	// KindTime values are RFC3339 timestamps or dates
	KindTime ValueKind = "time"
	// KindBool values are true or false
	KindBool ValueKind = "bool"
)

// SortOrder is the natural order of a dimension's facet options
type SortOrder string

const (
	// OrderAsc sorts options ascending by their kind (alphabetical, numeric or chronological)
	OrderAsc SortOrder = "asc"
	// OrderDesc sorts options descending by their kind
	OrderDesc SortOrder = "desc"
	// OrderSemver sorts options by semantic version precedence
	OrderSemver SortOrder = "semver"
	// OrderSemverDesc sorts options by descending semantic version precedence
	OrderSemverDesc SortOrder = "semver_desc"
	// OrderNone keeps the order returned by the store
	OrderNone SortOrder = "none"
)

// Direction is a row sort direction
type Direction string

const (
	// Asc sorts ascending
	Asc Direction = "asc"
	// Desc sorts descending
	Desc Direction = "desc"
)

// Sort is a column and direction
type Sort struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// Descriptor describes one filterable dimension
type Descriptor struct {
	Key       string      `json:"key"`
	Columns   []string    `json:"columns"`
	Operator  Operator    `json:"operator"`
	Kind      ValueKind   `json:"kind"`
	DependsOn string      `json:"dependsOn,omitempty"`
	Order     SortOrder   `json:"order"`
	Label     LabelFormat `json:"-"`
}

// MultiValued reports whether the operator accepts a set of values
func (d Descriptor) MultiValued() bool {
	return d.Operator == OpIn
}

// Configuration is the filter configuration of one collection. It is built
// once by the Registry and never mutated afterwards.
type Configuration struct {
	Collection     string
	Table          string
	Columns        []string
	IndexedColumns []string
	SearchColumns  []string
	DefaultSort    Sort

	descriptors []Descriptor
	index       map[string]int
}

// Keys returns the filter keys in configuration order
func (c *Configuration) Keys() []string {
	keys := make([]string, len(c.descriptors))
	for i, d := range c.descriptors {
		keys[i] = d.Key
	}
	return keys
}

// Descriptor returns the descriptor for key
func (c *Configuration) Descriptor(key string) (Descriptor, bool) {
	i, ok := c.index[key]
	if !ok {
		return Descriptor{}, false
	}
	return c.descriptors[i], true
}

// Descriptors returns a copy of the descriptors in configuration order
func (c *Configuration) Descriptors() []Descriptor {
	return slices.Clone(c.descriptors)
}

// IsProjected reports whether column is returned in row pages
func (c *Configuration) IsProjected(column string) bool {
	return slices.Contains(c.Columns, column)
}

// IsSortable reports whether rows may be ordered by column
func (c *Configuration) IsSortable(column string) bool {
	return c.IsProjected(column) || slices.Contains(c.IndexedColumns, column)
}

func parseOperator(s string) (Operator, error) {
	switch op := Operator(s); op {
	case OpEquals, OpIn, OpILike, OpRange, OpBefore, OpAfter:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

func parseKind(s string) (ValueKind, error) {
	if s == "" {
		return KindString, nil
	}
	switch k := ValueKind(s); k {
	case KindString, KindNumber, KindTime, KindBool:
		return k, nil
	default:
		return "", fmt.Errorf("unknown value kind %q", s)
	}
}

func parseOrder(s string) (SortOrder, error) {
	if s == "" {
		return OrderAsc, nil
	}
	switch o := SortOrder(s); o {
	case OrderAsc, OrderDesc, OrderSemver, OrderSemverDesc, OrderNone:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// ParseDirection normalises a sort direction; anything but "desc" is ascending
func ParseDirection(s string) Direction {
	if Direction(s) == Desc || s == "DESC" {
		return Desc
	}
	return Asc
}
