package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrotsystems/carrot/internal/store"
)

type fakeStore struct {
	store.Provider
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func TestHealthEndpointWiredThroughFullRouter(t *testing.T) {
	srv := New(":0", &fakeStore{}, nil, nil, nil, nil, "")
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestDebugVarsMounted(t *testing.T) {
	srv := New(":0", &fakeStore{}, nil, nil, nil, nil, "")
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/vars")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIKeyMiddleware_RejectsMissingKey(t *testing.T) {
	srv := New(":0", &fakeStore{}, nil, nil, nil, nil, "secret")
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/pipelines")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyMiddleware_ExemptsHealth(t *testing.T) {
	srv := New(":0", &fakeStore{}, nil, nil, nil, nil, "secret")
	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
