package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/onsi/gomega"

	"github.com/stacklok/facet-query-server/examples"
	"github.com/stacklok/facet-query-server/internal/engine"
)

// WriteFundsData copies the sample funds data into dir
func WriteFundsData(dir string) {
	data, err := examples.DataFS.ReadFile("data/funds.json")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	err = os.WriteFile(filepath.Join(dir, "funds.json"), data, 0600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

// WriteConfigYAML writes a file-store configuration serving the funds
// collection from dataDir. cacheType may be empty to disable the cache.
func WriteConfigYAML(dir, dataDir, cacheType string) string {
	cache := ""
	if cacheType != "" {
		cache = fmt.Sprintf("cache:\n  type: %s\n  ttl: 1m\n", cacheType)
	}

	configContent := fmt.Sprintf(`storage:
  type: file
file:
  dataDir: %s
engine:
  defaultPageSize: 5
  maxPageSize: 50
  maxFacetFanout: 3
%s
collections:
  - name: funds
    columns: [fund_name, category, sub_category, rating, version]
    indexedColumns: [owner_id, launched_at]
    searchColumns: [fund_name]
    defaultSort:
      column: fund_name
    filters:
      - key: category
        columns: [category]
        operator: in
        label:
          case: title
      - key: sub_category
        columns: [sub_category]
        operator: in
        dependsOn: category
      - key: rating
        columns: [rating]
        operator: in
        kind: number
        order: desc
        label:
          format: "%%v stars"
      - key: version
        columns: [version]
        operator: in
        order: semver_desc
      - key: launched_after
        columns: [launched_at]
        operator: after
        kind: time
`, dataDir, cache)

	configPath := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(configPath, []byte(configContent), 0600)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return configPath
}

// OptionValues returns the raw values of an option set
func OptionValues(set engine.OptionSet) []any {
	out := make([]any, len(set))
	for i, o := range set {
		out[i] = o.Value
	}
	return out
}

// OptionLabels returns the labels of an option set
func OptionLabels(set engine.OptionSet) []string {
	out := make([]string, len(set))
	for i, o := range set {
		out[i] = o.Label
	}
	return out
}

// ColumnValues returns the values of column across rows
func ColumnValues(resp *engine.Response, column string) []any {
	gomega.Expect(resp.Data).NotTo(gomega.BeNil())
	out := make([]any, len(resp.Data.Rows))
	for i, r := range resp.Data.Rows {
		out[i] = r[column]
	}
	return out
}
