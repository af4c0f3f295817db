package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/store"
	"github.com/stacklok/facet-query-server/internal/store/inmemory"
)

// FileFactory creates the in-memory store from the JSON and YAML files of
// the configured data directory.
type FileFactory struct {
	config  *config.Config
	dataDir string
}

var _ Factory = (*FileFactory)(nil)

// NewFileFactory creates a new file-based storage factory.
func NewFileFactory(cfg *config.Config) (*FileFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.File == nil || cfg.File.DataDir == "" {
		return nil, fmt.Errorf("file.dataDir is required for file storage type")
	}

	slog.Info("Creating file-based storage factory", "data_dir", cfg.File.DataDir)

	return &FileFactory{
		config:  cfg,
		dataDir: cfg.File.DataDir,
	}, nil
}

// CreateStore loads every data file into memory. Every collection table must
// have a data file.
func (f *FileFactory) CreateStore(_ context.Context) (store.Store, error) {
	slog.Debug("Creating file-based store")

	s, err := inmemory.LoadDir(f.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load data directory: %w", err)
	}

	loaded := make(map[string]bool)
	for _, t := range s.Tables() {
		loaded[t] = true
	}
	for collection, table := range tables(f.config) {
		if !loaded[table] {
			return nil, fmt.Errorf("collection %q: no data file for table %q in %s", collection, table, f.dataDir)
		}
	}

	slog.Info("Loaded file store", "tables", len(loaded))
	return s, nil
}

// Cleanup is a no-op: the file store holds no external resources.
func (*FileFactory) Cleanup() {
	slog.Debug("Cleaning up file storage factory (no-op)")
}
