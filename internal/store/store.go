// Package store defines the backing store capability the query engine reads
// from. Backends live in sub-packages.
package store

import (
	"context"
	"errors"

	"github.com/stacklok/facet-query-server/internal/query"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

var (
	// ErrUnknownTable is returned when a spec names a table the store does not hold
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnsupportedSpec is returned when a spec uses a capability the store lacks
	ErrUnsupportedSpec = errors.New("unsupported query spec")
)

// Row is one record keyed by column name
type Row map[string]any

// Page is a window of rows and the total number of rows matching the same
// predicate set.
type Page struct {
	Rows  []Row `json:"rows"`
	Total int64 `json:"total"`
}

// Store is the read capability of a backing store
type Store interface {
	// Query returns the page selected by the spec's sort and pagination together
	// with the total count under the same predicates.
	Query(ctx context.Context, spec query.Spec) (*Page, error)
	// Distinct returns the distinct non-null values of the spec's projected
	// columns under its predicates. Values from several columns are merged.
	Distinct(ctx context.Context, spec query.Spec) ([]any, error)
	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}
