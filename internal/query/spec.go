package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/stacklok/facet-query-server/internal/filters"
)

// Search is a free-text substring search over one or more columns
type Search struct {
	Columns []string `json:"columns"`
	Term    string   `json:"term"`
}

// Predicate returns the search as a substring predicate
func (s Search) Predicate() Predicate {
	return Substring(s.Columns, s.Term)
}

// Pagination is an offset/limit window
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Spec is a store-agnostic description of one read query. Row specs carry
// sort and pagination; distinct specs project the columns of a single facet
// and carry neither.
type Spec struct {
	Collection string        `json:"collection"`
	Table      string        `json:"table"`
	Columns    []string      `json:"columns"`
	Predicates []Predicate   `json:"predicates,omitempty"`
	Search     *Search       `json:"search,omitempty"`
	Sort       *filters.Sort `json:"sort,omitempty"`
	Pagination *Pagination   `json:"pagination,omitempty"`
	Distinct   bool          `json:"distinct,omitempty"`
	// Facet names the filter key a distinct spec resolves
	Facet string `json:"facet,omitempty"`
}

// Where returns every predicate the store must AND together, with the
// search predicate last.
func (s Spec) Where() []Predicate {
	out := make([]Predicate, 0, len(s.Predicates)+1)
	out = append(out, s.Predicates...)
	if s.Search != nil {
		out = append(out, s.Search.Predicate())
	}
	return out
}

// Key returns a digest that is equal for equal specs
func (s Spec) Key() string {
	// Spec holds no maps, so encoding is deterministic.
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
