// Package postgres provides a Store backed by a PostgreSQL connection pool
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/facet-query-server/internal/otel"
	"github.com/stacklok/facet-query-server/internal/query"
	"github.com/stacklok/facet-query-server/internal/store"
)

// TracerName is the name of the postgres store tracer
const TracerName = "github.com/stacklok/facet-query-server/store/postgres"

type options struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// Option configures the postgres store
type Option func(*options) error

// WithConnectionPool sets the pgx pool queries run on. The caller owns the
// pool and closes it.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. Tracing is disabled when unset.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// Store runs query specs against PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ store.Store = (*Store)(nil)

// New creates a postgres store
func New(opts ...Option) (*Store, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}

	return &Store{pool: o.pool, tracer: o.tracer}, nil
}

func (s *Store) startSpan(ctx context.Context, name string, spec query.Spec) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemPostgreSQL,
			otel.AttrTable.String(spec.Table),
			otel.AttrFilterCount.Int(len(spec.Predicates)),
		),
	)
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Query counts and selects inside one read-only repeatable-read transaction
// so the total and the page observe the same snapshot.
func (s *Store) Query(ctx context.Context, spec query.Spec) (_ *store.Page, retErr error) {
	ctx, span := s.startSpan(ctx, "postgres.Query", spec)
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	countStmt, err := compileCount(spec)
	if err != nil {
		return nil, err
	}
	pageStmt, err := compilePage(spec)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.DebugContext(ctx, "Rollback of read-only transaction failed", "error", err)
		}
	}()

	var total int64
	if err := tx.QueryRow(ctx, countStmt.sql, countStmt.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count rows of %s: %w", spec.Table, err)
	}

	rows, err := tx.Query(ctx, pageStmt.sql, pageStmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select rows of %s: %w", spec.Table, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", spec.Table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	page := &store.Page{Rows: make([]store.Row, len(records)), Total: total}
	for i, m := range records {
		row := make(store.Row, len(m))
		for k, v := range m {
			row[k] = normalize(v)
		}
		page.Rows[i] = row
	}

	span.SetAttributes(
		otel.AttrResultCount.Int(len(page.Rows)),
		otel.AttrTotalCount.Int64(total),
	)
	return page, nil
}

// Distinct returns the distinct non-null values of the projected columns
func (s *Store) Distinct(ctx context.Context, spec query.Spec) (_ []any, retErr error) {
	ctx, span := s.startSpan(ctx, "postgres.Distinct", spec)
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()
	span.SetAttributes(attribute.StringSlice("db.columns", spec.Columns))

	stmt, err := compileDistinct(spec)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select distinct values of %s: %w", spec.Table, err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (any, error) {
		var v any
		err := row.Scan(&v)
		return normalize(v), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read distinct values of %s: %w", spec.Table, err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(values)))
	return values, nil
}

// normalize converts driver-specific values to plain Go values that encode
// cleanly as JSON and compare with filters.CompareValues.
func normalize(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(t).String()
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}
