package engine

import (
	"fmt"
	"slices"

	"github.com/stacklok/facet-query-server/internal/store"
)

// ResultPage is the response body of a successful query
type ResultPage struct {
	Rows       []store.Row          `json:"rows"`
	TotalCount int64                `json:"totalCount"`
	Facets     map[string]OptionSet `json:"facets"`
	// Partial is set when one or more facets could not be computed
	Partial        bool     `json:"partial"`
	DegradedFacets []string `json:"degradedFacets,omitempty"`
}

// Assemble combines a row page and resolved facets into a ResultPage. It does
// no I/O.
func Assemble(page *store.Page, facets *Facets) (*ResultPage, error) {
	if page == nil {
		return nil, fmt.Errorf("%w: missing row page", ErrMalformedResult)
	}
	if page.Total < 0 {
		return nil, fmt.Errorf("%w: negative total count %d", ErrMalformedResult, page.Total)
	}
	if int64(len(page.Rows)) > page.Total {
		return nil, fmt.Errorf("%w: page holds %d rows but total count is %d",
			ErrMalformedResult, len(page.Rows), page.Total)
	}

	result := &ResultPage{
		Rows:       page.Rows,
		TotalCount: page.Total,
		Facets:     map[string]OptionSet{},
	}
	if result.Rows == nil {
		result.Rows = []store.Row{}
	}
	if facets == nil {
		return result, nil
	}

	for key, set := range facets.Options {
		if slices.Contains(facets.Degraded, key) {
			return nil, fmt.Errorf("%w: facet %q is both resolved and degraded", ErrMalformedResult, key)
		}
		if set == nil {
			set = OptionSet{}
		}
		result.Facets[key] = set
	}

	if len(facets.Degraded) > 0 {
		result.Partial = true
		result.DegradedFacets = slices.Clone(facets.Degraded)
		slices.Sort(result.DegradedFacets)
	}
	return result, nil
}
