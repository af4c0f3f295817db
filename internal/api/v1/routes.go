// Package v1 provides the faceted query API over the configured collections.
package v1

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/facet-query-server/internal/api/common"
	"github.com/stacklok/facet-query-server/internal/engine"
	"github.com/stacklok/facet-query-server/internal/filters"
)

// Routes handles HTTP requests for the v1 endpoints
type Routes struct {
	engine *engine.Engine
}

// NewRoutes creates a new Routes instance with the given engine
func NewRoutes(eng *engine.Engine) *Routes {
	return &Routes{
		engine: eng,
	}
}

// Router creates and configures the HTTP router for the v1 endpoints
func Router(eng *engine.Engine) http.Handler {
	routes := NewRoutes(eng)

	r := chi.NewRouter()

	r.Get("/collections", routes.listCollections)
	r.Route("/collections/{collection}", func(r chi.Router) {
		r.Get("/filters", routes.describeCollection)
		r.Post("/query", routes.queryCollection)
	})

	return r
}

// listCollections handles GET /v1/collections
func (routes *Routes) listCollections(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, CollectionListResponse{
		Collections: routes.engine.Collections(),
	}, http.StatusOK)
}

// describeCollection handles GET /v1/collections/{collection}/filters
func (routes *Routes) describeCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := common.GetAndValidateURLParam(r, "collection")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := routes.engine.Describe(collection)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	common.WriteJSONResponse(w, newCollectionResponse(cfg), http.StatusOK)
}

// queryCollection handles POST /v1/collections/{collection}/query
func (routes *Routes) queryCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := common.GetAndValidateURLParam(r, "collection")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var body QueryRequest
	if err := common.DecodeJSONBody(w, r, &body); err != nil {
		common.WriteJSONResponse(w, engine.Response{Error: err.Error()}, http.StatusBadRequest)
		return
	}

	req := body.toEngineRequest(collection)
	resp := routes.engine.Query(r.Context(), req)
	if !resp.Success {
		slog.DebugContext(r.Context(), "Query rejected",
			"collection", collection,
			"kind", resp.Kind,
			"error", resp.Error)
	}

	common.WriteJSONResponse(w, resp, StatusForKind(resp.Kind))
}

// StatusForKind maps an engine error kind to its HTTP status
func StatusForKind(kind engine.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case engine.ErrorKindConfiguration:
		return http.StatusNotFound
	case engine.ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case engine.ErrorKindExecution:
		return http.StatusBadGateway
	case engine.ErrorKindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newCollectionResponse(cfg *filters.Configuration) CollectionResponse {
	return CollectionResponse{
		Name:          cfg.Collection,
		Columns:       cfg.Columns,
		SearchColumns: cfg.SearchColumns,
		DefaultSort:   cfg.DefaultSort,
		Filters:       cfg.Descriptors(),
	}
}
