package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/facet-query-server/internal/store"
)

func TestAssemble(t *testing.T) {
	t.Parallel()

	rows := []store.Row{{"fund_name": "Alpha Growth"}}
	equity := OptionSet{{Value: "Equity", Label: "Equity"}}

	tests := []struct {
		name    string
		page    *store.Page
		facets  *Facets
		want    *ResultPage
		wantErr bool
	}{
		{
			name:   "complete result",
			page:   &store.Page{Rows: rows, Total: 4},
			facets: &Facets{Options: map[string]OptionSet{"category": equity}},
			want: &ResultPage{
				Rows: rows, TotalCount: 4,
				Facets: map[string]OptionSet{"category": equity},
			},
		},
		{
			name: "partial result",
			page: &store.Page{Rows: rows, Total: 1},
			facets: &Facets{
				Options:  map[string]OptionSet{"category": equity},
				Degraded: []string{"rating", "launched"},
			},
			want: &ResultPage{
				Rows: rows, TotalCount: 1,
				Facets:         map[string]OptionSet{"category": equity},
				Partial:        true,
				DegradedFacets: []string{"launched", "rating"},
			},
		},
		{
			name:   "nil inputs normalised",
			page:   &store.Page{},
			facets: &Facets{Options: map[string]OptionSet{"category": nil}},
			want: &ResultPage{
				Rows:   []store.Row{},
				Facets: map[string]OptionSet{"category": {}},
			},
		},
		{
			name: "no facets",
			page: &store.Page{Total: 9},
			want: &ResultPage{Rows: []store.Row{}, TotalCount: 9, Facets: map[string]OptionSet{}},
		},
		{name: "nil page", wantErr: true},
		{name: "negative total", page: &store.Page{Total: -1}, wantErr: true},
		{name: "more rows than total", page: &store.Page{Rows: rows, Total: 0}, wantErr: true},
		{
			name: "degraded key with options",
			page: &store.Page{Total: 0},
			facets: &Facets{
				Options:  map[string]OptionSet{"category": equity},
				Degraded: []string{"category"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Assemble(tt.page, tt.facets)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedResult)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
