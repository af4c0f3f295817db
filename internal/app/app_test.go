package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/facet-query-server/internal/app/storage/mocks"
)

// createTestApp builds an app over an in-memory store behind a mock factory
func createTestApp(t *testing.T, ctrl *gomock.Controller, addr string) *FacetApp {
	t.Helper()

	app, err := NewFacetApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithAddress(addr),
		WithStorageFactory(newMockFactory(ctrl, testStore())),
	)
	require.NoError(t, err)
	return app
}

// startApp runs Start in the background and waits until it listens
func startApp(t *testing.T, app *FacetApp) <-chan error {
	t.Helper()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case <-app.Ready():
	case err := <-errChan:
		t.Fatalf("Start() returned before listening: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	return errChan
}

func waitStopped(t *testing.T, errChan <-chan error) {
	t.Helper()
	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}

func TestFacetApp_StartServesRequests(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{":0", "127.0.0.1:0"} {
		t.Run(addr, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)

			app := createTestApp(t, ctrl, addr)
			errChan := startApp(t, app)

			_, port, err := net.SplitHostPort(app.Addr())
			require.NoError(t, err)
			assert.NotEqual(t, "0", port)

			resp, err := http.Get("http://127.0.0.1:" + port + "/health")
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"status":"healthy"}`, string(body))

			require.NoError(t, app.Stop(5*time.Second))
			waitStopped(t, errChan)
		})
	}
}

func TestFacetApp_StartError_AddressInUse(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	app := createTestApp(t, ctrl, ln.Addr().String())
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	err = app.Start()
	assert.ErrorContains(t, err, "failed to listen")
}

func TestFacetApp_AddrBeforeStart(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	app := createTestApp(t, ctrl, "127.0.0.1:0")
	t.Cleanup(func() { _ = app.Stop(time.Second) })
	assert.Equal(t, "127.0.0.1:0", app.Addr())
}

func TestFacetApp_StopIdempotent(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	// the mock factory expects exactly one Cleanup
	app := createTestApp(t, ctrl, "127.0.0.1:0")
	errChan := startApp(t, app)

	require.NoError(t, app.Stop(5*time.Second))
	require.NoError(t, app.Stop(5*time.Second))
	waitStopped(t, errChan)
}

func TestFacetApp_StopWithoutStart(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	f := mocks.NewMockFactory(ctrl)
	f.EXPECT().CreateStore(gomock.Any()).Return(testStore(), nil)
	f.EXPECT().Cleanup().Times(1)

	app, err := NewFacetApp(context.Background(),
		WithConfig(createValidTestConfig()),
		WithStorageFactory(f),
	)
	require.NoError(t, err)
	assert.NoError(t, app.Stop(time.Second))
}
