package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/internal/config"
)

func fundsCollection() config.CollectionConfig {
	return config.CollectionConfig{
		Name:           "funds",
		Table:          "fund_catalog",
		Columns:        []string{"fund_name", "category", "sub_category", "rating"},
		IndexedColumns: []string{"launched_at"},
		SearchColumns:  []string{"fund_name"},
		DefaultSort:    config.SortConfig{Column: "fund_name"},
		Filters: []config.FilterConfig{
			{Key: "category", Columns: []string{"category"}, Operator: "in"},
			{Key: "sub_category", Columns: []string{"sub_category"}, Operator: "in", DependsOn: "category"},
			{Key: "rating", Columns: []string{"rating"}, Operator: "range", Kind: "number", Order: "desc"},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry([]config.CollectionConfig{fundsCollection()})
	require.NoError(t, err)

	cfg, err := reg.Describe("funds")
	require.NoError(t, err)
	assert.Equal(t, "fund_catalog", cfg.Table)
	assert.Equal(t, []string{"category", "sub_category", "rating"}, cfg.Keys())
	assert.Equal(t, Sort{Column: "fund_name", Direction: Asc}, cfg.DefaultSort)

	d, ok := cfg.Descriptor("rating")
	require.True(t, ok)
	assert.Equal(t, OpRange, d.Operator)
	assert.Equal(t, KindNumber, d.Kind)
	assert.Equal(t, OrderDesc, d.Order)

	d, ok = cfg.Descriptor("category")
	require.True(t, ok)
	assert.Equal(t, KindString, d.Kind, "kind defaults to string")
	assert.Equal(t, OrderAsc, d.Order, "order defaults to asc")
	assert.True(t, d.MultiValued())

	_, ok = cfg.Descriptor("missing")
	assert.False(t, ok)

	assert.True(t, cfg.IsSortable("launched_at"))
	assert.False(t, cfg.IsProjected("launched_at"))
	assert.Equal(t, []string{"funds"}, reg.Collections())
}

func TestDescribeUnknownCollection(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry([]config.CollectionConfig{fundsCollection()})
	require.NoError(t, err)

	_, err = reg.Describe("bonds")
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), `unknown collection "bonds"`)
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.CollectionConfig)
		wantErr string
	}{
		{
			name: "unknown operator",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].Operator = "regex"
			},
			wantErr: `unknown operator "regex"`,
		},
		{
			name: "unknown kind",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].Kind = "uuid"
			},
			wantErr: `unknown value kind "uuid"`,
		},
		{
			name: "ilike on numbers",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[2].Operator = "ilike"
			},
			wantErr: "requires kind string",
		},
		{
			name: "duplicate key",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[1].Key = "category"
				c.Filters[1].DependsOn = ""
			},
			wantErr: `duplicate filter key "category"`,
		},
		{
			name: "unknown dependency",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[1].DependsOn = "region"
			},
			wantErr: `depends on unknown filter "region"`,
		},
		{
			name: "self dependency",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].DependsOn = "category"
			},
			wantErr: "depends on itself",
		},
		{
			name: "dependency cycle",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].DependsOn = "sub_category"
			},
			wantErr: "dependency cycle",
		},
		{
			name: "filter column not in table",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].Columns = []string{"region"}
			},
			wantErr: `column "region" is neither projected nor indexed`,
		},
		{
			name: "default sort not sortable",
			mutate: func(c *config.CollectionConfig) {
				c.DefaultSort.Column = "secret"
			},
			wantErr: `default sort column "secret"`,
		},
		{
			name: "search column not projected",
			mutate: func(c *config.CollectionConfig) {
				c.SearchColumns = []string{"launched_at"}
			},
			wantErr: `search column "launched_at"`,
		},
		{
			name: "unknown label case",
			mutate: func(c *config.CollectionConfig) {
				c.Filters[0].Label.Case = "camel"
			},
			wantErr: `unknown label case "camel"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			coll := fundsCollection()
			tt.mutate(&coll)

			_, err := NewRegistry([]config.CollectionConfig{coll})
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewRegistryDuplicateCollection(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]config.CollectionConfig{fundsCollection(), fundsCollection()})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "duplicate collection")
}

func TestConfigurationIsolatedFromSource(t *testing.T) {
	t.Parallel()

	coll := fundsCollection()
	reg, err := NewRegistry([]config.CollectionConfig{coll})
	require.NoError(t, err)

	coll.Columns[0] = "mutated"
	coll.Filters[0].Columns[0] = "mutated"

	cfg, err := reg.Describe("funds")
	require.NoError(t, err)
	assert.Equal(t, "fund_name", cfg.Columns[0])
	d, _ := cfg.Descriptor("category")
	assert.Equal(t, "category", d.Columns[0])
}
