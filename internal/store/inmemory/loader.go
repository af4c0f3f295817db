package inmemory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/facet-query-server/internal/store"
)

// LoadDir loads every .json, .yaml and .yml file of dir as a table named
// after the file's base name. Each file holds a list of objects.
func LoadDir(dir string) (*Store, error) {
	cleanDir := filepath.Clean(dir)
	entries, err := os.ReadDir(cleanDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	tables := make(map[string][]store.Row)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}

		table := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, dup := tables[table]; dup {
			return nil, fmt.Errorf("table %q is defined by more than one file", table)
		}

		rows, err := LoadFile(filepath.Join(cleanDir, e.Name()))
		if err != nil {
			return nil, err
		}
		tables[table] = rows
	}

	return New(tables), nil
}

// LoadFile reads the rows of a single JSON or YAML file
func LoadFile(path string) ([]store.Row, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cleanPath, err)
	}

	var raw []map[string]any
	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return nil, fmt.Errorf("unsupported data file extension: %s", cleanPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", cleanPath, err)
	}

	rows := make([]store.Row, len(raw))
	for i, r := range raw {
		rows[i] = store.Row(r)
	}
	return rows, nil
}
