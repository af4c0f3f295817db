// Package app provides application lifecycle management for the facet query server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/facet-query-server/internal/config"
)

// FacetApp encapsulates all components needed to run the facet API server
// It provides lifecycle management and graceful shutdown capabilities
type FacetApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Closed once the server is listening
	ready    chan struct{}
	addrMu   sync.RWMutex
	addr     string
	stopOnce sync.Once

	// Releases the store and cache resources
	cleanup func()
}

// Start listens on the configured address and serves HTTP requests.
// This method blocks until the HTTP server stops or encounters an error
func (app *FacetApp) Start() error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.addrMu.Lock()
	app.addr = ln.Addr().String()
	app.addrMu.Unlock()
	close(app.ready)

	slog.Info("Server listening", "address", ln.Addr().String())
	if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Ready is closed once Start is accepting connections
func (app *FacetApp) Ready() <-chan struct{} {
	return app.ready
}

// Addr returns the address the server listens on, or the configured address
// before Start
func (app *FacetApp) Addr() string {
	app.addrMu.RLock()
	defer app.addrMu.RUnlock()
	if app.addr == "" {
		return app.httpServer.Addr
	}
	return app.addr
}

// Stop gracefully stops the application with the given timeout.
// In-flight requests are drained before the store resources are released.
func (app *FacetApp) Stop(timeout time.Duration) error {
	var err error
	app.stopOnce.Do(func() {
		slog.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if shutdownErr := app.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			err = fmt.Errorf("server forced to shutdown: %w", shutdownErr)
		}

		if app.cleanup != nil {
			app.cleanup()
		}

		if err == nil {
			slog.Info("Server shutdown complete")
		}
	})
	return err
}

// GetConfig returns the application configuration
func (app *FacetApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *FacetApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired application components
func (app *FacetApp) Components() *AppComponents {
	return app.components
}
