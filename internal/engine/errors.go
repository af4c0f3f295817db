package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/facet-query-server/internal/filters"
	"github.com/stacklok/facet-query-server/internal/query"
)

// ErrMalformedResult is returned by Assemble when its inputs are inconsistent
var ErrMalformedResult = errors.New("malformed result")

// Store operations reported in QueryExecutionError
const (
	OpQuery    = "query"
	OpDistinct = "distinct"
)

// QueryExecutionError reports a failure of the backing store. Key is set for
// facet queries.
type QueryExecutionError struct {
	Op         string
	Collection string
	Key        string
	Err        error
}

func (e *QueryExecutionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s of facet %q on collection %q failed: %v", e.Op, e.Key, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s on collection %q failed: %v", e.Op, e.Collection, e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a failed request for the caller
type ErrorKind string

const (
	// ErrorKindConfiguration is an unknown or invalid collection
	ErrorKindConfiguration ErrorKind = "configuration"
	// ErrorKindInvalidRequest is a request rejected before any query ran
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	// ErrorKindExecution is a backing store failure
	ErrorKindExecution ErrorKind = "execution"
	// ErrorKindCanceled is a request aborted by its caller or a deadline
	ErrorKindCanceled ErrorKind = "canceled"
	// ErrorKindInternal is anything else
	ErrorKindInternal ErrorKind = "internal"
)

// Classify maps an engine error to its kind
func Classify(err error) ErrorKind {
	var execErr *QueryExecutionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindCanceled
	case errors.Is(err, filters.ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, query.ErrInvalidFilterKey),
		errors.Is(err, query.ErrInvalidFilterValue),
		errors.Is(err, query.ErrInvalidPagination),
		errors.Is(err, query.ErrInvalidSearchColumn):
		return ErrorKindInvalidRequest
	case errors.As(err, &execErr):
		return ErrorKindExecution
	default:
		return ErrorKindInternal
	}
}
