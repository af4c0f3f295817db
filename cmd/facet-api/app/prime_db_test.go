package app

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/database"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/store/inmemory"
)

const sampleData = "../../../examples/data/funds.json"

const fileConfig = `
storage:
  type: file
file:
  dataDir: ./data
collections:
  - name: funds
    table: funds_v2
    columns: [fund_name, category]
    defaultSort:
      column: fund_name
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

// newPrimeCmd returns a fresh command carrying the prime-db flags
func newPrimeCmd(configPath string, flags ...string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", configPath, "")
	cmd.Flags().Bool("truncate", false, "")
	cmd.Flags().Bool("dry-run", false, "")
	for _, f := range flags {
		_ = cmd.Flags().Set(f, "true")
	}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd, out
}

func TestCoerceValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     string
		value   any
		want    any
		wantErr string
	}{
		{name: "nil", typ: "text", value: nil, want: nil},
		{name: "text", typ: "text", value: "equity", want: "equity"},
		{name: "number to text", typ: "text", value: 4.0, want: "4"},
		{name: "bool to varchar", typ: "character varying(10)", value: true, want: "true"},
		{name: "integral float to smallint", typ: "smallint", value: 5.0, want: int64(5)},
		{name: "fractional float to integer", typ: "integer", value: 4.5, wantErr: "not an integer"},
		{name: "numeric untouched", typ: "numeric(6,3)", value: 0.45, want: 0.45},
		{name: "date", typ: "date", value: "2015-03-01", want: time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "timestamp rfc3339", typ: "timestamp with time zone", value: "2015-03-01T10:00:00Z",
			want: time.Date(2015, 3, 1, 10, 0, 0, 0, time.UTC)},
		{name: "timestamp space separated", typ: "timestamp without time zone", value: "2015-03-01 10:00:00",
			want: time.Date(2015, 3, 1, 10, 0, 0, 0, time.UTC)},
		{name: "bad date", typ: "date", value: "yesterday", wantErr: "cannot parse"},
		{name: "decoded yaml time", typ: "date", value: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
			want: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := coerceValue(tt.typ, tt.value)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRowColumns(t *testing.T) {
	t.Parallel()

	rows := []store.Row{
		{"rating": 5.0, "fund_name": "Alpha"},
		{"category": "debt"},
		{},
	}
	assert.Equal(t, []string{"category", "fund_name", "rating"}, rowColumns(rows))
	assert.Empty(t, rowColumns(nil))
}

func TestCollectionTable(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(config.WithConfigPath(writeConfig(t, fileConfig)))
	require.NoError(t, err)

	table, err := collectionTable(cfg, "funds")
	require.NoError(t, err)
	assert.Equal(t, "funds_v2", table)

	_, err = collectionTable(cfg, "bonds")
	assert.ErrorContains(t, err, `collection "bonds" is not configured`)
}

func TestRunPrimeDbDryRun(t *testing.T) {
	t.Parallel()

	cmd, out := newPrimeCmd(writeConfig(t, fileConfig), "dry-run")
	require.NoError(t, runPrimeDb(cmd, []string{"funds", sampleData}))

	assert.Contains(t, out.String(), "table: funds_v2")
	assert.Contains(t, out.String(), "rows: 10")
	assert.Contains(t, out.String(), "category, expense_ratio, fund_name")
}

func TestRunPrimeDbErrors(t *testing.T) {
	t.Parallel()

	configPath := writeConfig(t, fileConfig)

	tests := []struct {
		name    string
		args    []string
		flags   []string
		wantErr string
	}{
		{name: "unknown collection", args: []string{"bonds", sampleData}, wantErr: "is not configured"},
		{name: "missing data file", args: []string{"funds", "nope.json"}, wantErr: "failed to load data file"},
		{name: "no database configured", args: []string{"funds", sampleData}, wantErr: "database configuration is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, _ := newPrimeCmd(configPath, tt.flags...)
			assert.ErrorContains(t, runPrimeDb(cmd, tt.args), tt.wantErr)
		})
	}
}

// databaseConfig points a config at the test database behind connStr
func databaseConfig(t *testing.T, connStr string) *config.Config {
	t.Helper()

	u, err := url.Parse(connStr)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	passwordFile := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte(password+"\n"), 0600))

	return &config.Config{
		Storage: config.StorageConfig{Type: config.StorageTypeDatabase},
		Database: &config.DatabaseConfig{
			Host:         u.Hostname(),
			Port:         port,
			User:         u.User.Username(),
			PasswordFile: passwordFile,
			Database:     u.Path[1:],
			SSLMode:      "disable",
		},
		Collections: []config.CollectionConfig{{
			Name:        "funds",
			Columns:     []string{"fund_name", "category"},
			DefaultSort: config.SortConfig{Column: "fund_name"},
		}},
	}
}

func TestPrimeTableAgainstPostgres(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("requires a Postgres container")
	}

	ctx := context.Background()
	_, connStr := database.SetupTestDB(t)

	conn, err := pgx.Connect(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(ctx) })

	rows, err := inmemory.LoadFile(sampleData)
	require.NoError(t, err)

	n, err := primeTable(ctx, conn, "funds", rows, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	// loading twice with truncate replaces the rows
	n, err = primeTable(ctx, conn, "funds", rows, true)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	var count int
	require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM funds").Scan(&count))
	assert.Equal(t, 10, count)

	var launched time.Time
	var rating *int16
	require.NoError(t, conn.QueryRow(ctx,
		"SELECT launched_at, rating FROM funds WHERE fund_name = 'Liquid Reserve'").Scan(&launched, &rating))
	assert.Equal(t, "2019-02-01", launched.Format(time.DateOnly))
	assert.Nil(t, rating)

	_, err = primeTable(ctx, conn, "funds", []store.Row{{"manager": "Smith"}}, false)
	assert.ErrorContains(t, err, `has no column "manager"`)

	_, err = primeTable(ctx, conn, "bonds", rows, false)
	assert.ErrorContains(t, err, "does not exist")
}
