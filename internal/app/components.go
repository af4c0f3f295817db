package app

import (
	"github.com/stacklok/facet-query-server/internal/engine"
	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/store"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Registry holds the filter configuration of every collection
	Registry *filters.Registry

	// Store is the backing store, wrapped by the query cache when enabled
	Store store.Store

	// Engine answers faceted queries
	Engine *engine.Engine
}
