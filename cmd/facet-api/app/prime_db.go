package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/stacklok/facet-query-server/internal/app/storage/auth"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/store/inmemory"
)

var primeDbCmd = &cobra.Command{
	Use:   "prime-db <collection> <data-file>",
	Short: "Bulk-load rows into the table of a collection",
	Long: `Prime the database by loading the rows of a JSON or YAML file into the
table backing a collection.

The file holds an array of objects keyed by column name, the same format the
file storage type serves. Values are converted to the column types of the
table; columns missing from a row are loaded as NULL.

The command uses the --config option to find the collection and connect to
the database.`,
	Args: cobra.ExactArgs(2),
	RunE: runPrimeDb,
}

func init() {
	primeDbCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	primeDbCmd.Flags().Bool("truncate", false, "Delete the existing rows of the table before loading")
	primeDbCmd.Flags().Bool("dry-run", false, "Print the columns and row count that would be loaded")

	if err := primeDbCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runPrimeDb(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	collection, dataFile := args[0], args[1]
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	truncate, err := cmd.Flags().GetBool("truncate")
	if err != nil {
		return fmt.Errorf("failed to get truncate flag: %w", err)
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return fmt.Errorf("failed to get dry-run flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	table, err := collectionTable(cfg, collection)
	if err != nil {
		return err
	}

	rows, err := inmemory.LoadFile(dataFile)
	if err != nil {
		return fmt.Errorf("failed to load data file: %w", err)
	}
	columns := rowColumns(rows)

	if dryRun {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "table: %s\ncolumns: %s\nrows: %d\n",
			table, strings.Join(columns, ", "), len(rows))
		return err
	}

	if cfg.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	connString, err := auth.MigrationConnectionString(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(ctx); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	n, err := primeTable(ctx, conn, table, rows, truncate)
	if err != nil {
		return fmt.Errorf("failed to prime table %s: %w", table, err)
	}

	slog.Info("Database primed successfully", "collection", collection, "table", table, "rows", n)
	return nil
}

// collectionTable returns the table backing the named collection
func collectionTable(cfg *config.Config, collection string) (string, error) {
	for i := range cfg.Collections {
		if cfg.Collections[i].Name == collection {
			return cfg.Collections[i].GetTable(), nil
		}
	}
	return "", fmt.Errorf("collection %q is not configured", collection)
}

// rowColumns returns the sorted union of the keys of rows
func rowColumns(rows []store.Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	slices.Sort(columns)
	return columns
}

// primeTable copies rows into table in a single transaction and returns the
// number of rows copied
func primeTable(ctx context.Context, conn *pgx.Conn, table string, rows []store.Row, truncate bool) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
			slog.Error("Failed to rollback transaction", "error", err)
		}
	}()

	types, err := columnTypes(ctx, tx, table)
	if err != nil {
		return 0, err
	}

	columns := rowColumns(rows)
	for _, c := range columns {
		if _, ok := types[c]; !ok {
			return 0, fmt.Errorf("table %s has no column %q", table, c)
		}
	}

	if truncate {
		if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
			return 0, fmt.Errorf("failed to truncate: %w", err)
		}
	}

	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = make([]any, len(columns))
		for j, c := range columns {
			v, err := coerceValue(types[c], r[c])
			if err != nil {
				return 0, fmt.Errorf("row %d column %s: %w", i, c, err)
			}
			values[i][j] = v
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(values))
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

// columnTypes maps each column of table to its PostgreSQL type name
func columnTypes(ctx context.Context, tx pgx.Tx, table string) (map[string]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT attname, format_type(atttypid, atttypmod)
		FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attnum > 0 AND NOT attisdropped`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		types[name] = typ
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}
	return types, nil
}

// coerceValue converts a decoded JSON or YAML value to a value pgx can copy
// into a column of type typ
func coerceValue(typ string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch {
	case typ == "date" || strings.HasPrefix(typ, "timestamp"):
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as %s", s, typ)
	case typ == "text" || strings.HasPrefix(typ, "character"):
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, int, bool:
			return fmt.Sprint(t), nil
		}
	case typ == "smallint" || typ == "integer" || typ == "bigint":
		if f, ok := v.(float64); ok {
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			return int64(f), nil
		}
	}
	return v, nil
}
