// Package integration provides integration tests for the facet API server.
// These tests start the complete application over the file store and drive it
// through its HTTP API.
package integration
