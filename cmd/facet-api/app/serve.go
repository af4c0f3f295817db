package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/facet-query-server/database"
	"github.com/stacklok/facet-query-server/internal/app"
	"github.com/stacklok/facet-query-server/internal/app/storage/auth"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the facet API server",
	Long: `Start the facet API server.

The server requires a configuration file (--config) that specifies:
- The backing store (database or file)
- The collections, their columns and filter dimensions
- Engine limits, query cache and telemetry settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
	telemetryFlushTimeout  = 5 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().Bool("migrate", false, "Apply pending database migrations before serving")
	serveCmd.Flags().Duration("request-timeout", 10*time.Second, "Maximum time to answer a single request")

	for _, name := range []string{"address", "config", "migrate", "request-timeout"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := viper.GetString("address")
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"storage", cfg.GetStorageType(),
		"collections", len(cfg.Collections))

	if viper.GetBool("migrate") {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := []app.FacetAppOptions{
		app.WithConfig(cfg),
		app.WithAddress(address),
		app.WithRequestTimeout(viper.GetDuration("request-timeout")),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	if cfg.Telemetry != nil && cfg.Telemetry.Enabled {
		opts = append(opts,
			app.WithTracerProvider(tel.TracerProvider()),
			app.WithMeterProvider(tel.MeterProvider()),
		)
	}

	facetApp, err := app.NewFacetApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- facetApp.Start()
	}()

	select {
	case err := <-errChan:
		if stopErr := facetApp.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop application", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	return facetApp.Stop(defaultGracefulTimeout)
}

// runMigrations applies the embedded migrations to the configured database
func runMigrations(ctx context.Context, cfg *config.Config) error {
	if cfg.GetStorageType() != config.StorageTypeDatabase {
		slog.Info("Skipping migrations", "storage", cfg.GetStorageType())
		return nil
	}

	connString, err := auth.MigrationConnectionString(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	version, err := database.MigrateUp(connString)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database schema is up to date", "version", version)
	return nil
}
