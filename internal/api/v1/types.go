package v1

import (
	"github.com/stacklok/facet-query-server/internal/engine"
	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
)

// CollectionListResponse lists the queryable collections
type CollectionListResponse struct {
	Collections []string `json:"collections"`
}

// CollectionResponse describes the columns and filter dimensions of a collection
type CollectionResponse struct {
	Name          string               `json:"name"`
	Columns       []string             `json:"columns"`
	SearchColumns []string             `json:"searchColumns,omitempty"`
	DefaultSort   filters.Sort         `json:"defaultSort"`
	Filters       []filters.Descriptor `json:"filters"`
}

// QueryRequest is the body of a query. The collection comes from the path.
type QueryRequest struct {
	FilterKeys    []string                `json:"filterKeys,omitempty"`
	Filters       query.ServerSideFilters `json:"filters,omitempty"`
	SearchColumns []string                `json:"searchColumns,omitempty"`
	Search        string                  `json:"search,omitempty"`
	Sort          *filters.Sort           `json:"sort,omitempty"`
	Pagination    *query.Pagination       `json:"pagination,omitempty"`
}

func (q QueryRequest) toEngineRequest(collection string) engine.Request {
	return engine.Request{
		Collection:    collection,
		FilterKeys:    q.FilterKeys,
		Filters:       q.Filters,
		SearchColumns: q.SearchColumns,
		Search:        q.Search,
		Sort:          q.Sort,
		Pagination:    q.Pagination,
	}
}
