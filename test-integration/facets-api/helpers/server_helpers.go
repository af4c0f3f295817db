// Package helpers provides the server harness and fixtures of the facet API
// integration suite.
package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/onsi/gomega"

	"github.com/stacklok/facet-query-server/internal/app"
	"github.com/stacklok/facet-query-server/internal/config"
	"github.com/stacklok/facet-query-server/internal/engine"
)

// ServerTestHelper manages the facet API server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	httpClient *http.Client
	app        *app.FacetApp
}

// NewServerTestHelper creates a new server test helper
func NewServerTestHelper(ctx context.Context, configPath string) *ServerTestHelper {
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StartServer builds the application from the config file and serves it on
// an ephemeral port
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	facetApp, err := app.NewFacetApp(s.ctx,
		app.WithConfig(cfg),
		app.WithAddress("127.0.0.1:0"),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = facetApp

	errChan := make(chan error, 1)
	go func() {
		if err := facetApp.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
			errChan <- err
		}
	}()

	select {
	case <-facetApp.Ready():
		return nil
	case err := <-errChan:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not start listening")
	}
}

// StopServer gracefully stops the facet API server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits for the server to be ready to accept requests
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.GetBaseURL() + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return "http://" + s.app.Addr()
}

// Get makes a GET request to path and decodes the JSON body into out
func (s *ServerTestHelper) Get(path string, out any) int {
	resp, err := s.httpClient.Get(s.GetBaseURL() + path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return decode(resp, out)
}

// Query posts body to the query endpoint of collection and returns the
// decoded response with its status code
func (s *ServerTestHelper) Query(collection string, body any) (*engine.Response, int) {
	data, err := json.Marshal(body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return s.QueryRaw(collection, data)
}

// QueryRaw posts a raw body to the query endpoint of collection
func (s *ServerTestHelper) QueryRaw(collection string, body []byte) (*engine.Response, int) {
	resp, err := s.httpClient.Post(
		fmt.Sprintf("%s/v1/collections/%s/query", s.GetBaseURL(), collection),
		"application/json",
		bytes.NewReader(body),
	)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	var out engine.Response
	status := decode(resp, &out)
	return &out, status
}

func decode(resp *http.Response, out any) int {
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(json.Unmarshal(data, out)).To(gomega.Succeed(), "body: %s", string(data))
	return resp.StatusCode
}
