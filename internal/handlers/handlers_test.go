package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachetier/internal/cache"
	"cachetier/internal/store/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *cache.Orchestrator) {
	t.Helper()

	adapter := memory.New(memory.Config{SweepInterval: -1})
	t.Cleanup(func() { adapter.Close() })

	orch := cache.New(adapter, cache.Options{})
	srv := httptest.NewServer(New(orch, nil).Router())
	t.Cleanup(srv.Close)

	return srv, orch
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPutGetDeleteEntry(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/cache/user:1", map[string]interface{}{"value": "ada"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/cache/user:1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "user:1", body["key"])
	assert.Equal(t, "ada", body["value"])

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/cache/user:1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/cache/user:1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestGetEntryMiss(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/cache/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "missing", body["key"])
}

func TestPutEntryRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/cache/k", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListAndClearKeys(t *testing.T) {
	srv, orch := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, orch.SetMulti(ctx, map[string]interface{}{
		"user:1": "a", "user:2": "b", "session:1": "c",
	}, 0))

	resp, err := http.Get(srv.URL + "/api/cache?pattern=user:*")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["count"])

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/cache?pattern=user:*", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	keys, err := orch.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"session:1"}, keys)
}

func TestGetStats(t *testing.T) {
	srv, orch := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, orch.Set(ctx, "a", 1, 0))
	_, _, err := orch.Get(ctx, "a")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["hits"])
	assert.Equal(t, float64(1), body["key_count"])
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
}
