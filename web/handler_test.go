package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/engine"
	"github.com/taskmill/taskmill/pkg/storage"
	"github.com/taskmill/taskmill/web"
)

func newTestServer(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	store := storage.NewFileStorage(t.TempDir())
	eng, err := engine.New(context.Background(), store, engine.Config{})
	require.NoError(t, err)
	t.Cleanup(eng.Stop)

	srv := httptest.NewServer(web.Handler(eng, nil))
	t.Cleanup(srv.Close)
	return eng, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
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

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmitGetCancel(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/submit", map[string]any{
		"type":     "comment.post",
		"platform": "linkedin",
		"payload":  map[string]string{"text": "hi"},
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[core.Task](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.StatusQueued, created.Status)
	assert.Equal(t, core.PriorityHigh, created.Priority)

	resp = doJSON(t, http.MethodGet, srv.URL+"/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[core.Task](t, resp)
	assert.Equal(t, created.ID, got.ID)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Payload))

	resp = doJSON(t, http.MethodPost, srv.URL+"/cancel/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decode[core.Task](t, resp)
	assert.Equal(t, core.StatusCancelled, cancelled.Status)
}

func TestSubmitValidationError(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/submit", map[string]any{"platform": "linkedin"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "type is required")
}

func TestGetUnknownTask(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/cancel/no-such-task", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListFilters(t *testing.T) {
	eng, srv := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.Submit(ctx, core.TaskSpec{Type: fmt.Sprintf("comment.post%d", i), Platform: "linkedin"})
		require.NoError(t, err)
	}
	_, err := eng.Submit(ctx, core.TaskSpec{Type: "research.search", Priority: core.PriorityCritical})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, srv.URL+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := decode[[]core.Task](t, resp)
	require.Len(t, all, 4)
	assert.Equal(t, "research.search", all[0].Type, "critical sorts first")

	resp = doJSON(t, http.MethodGet, srv.URL+"/?type=comment.*&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comments := decode[[]core.Task](t, resp)
	assert.Len(t, comments, 2)

	resp = doJSON(t, http.MethodGet, srv.URL+"/?status=queued&platform=linkedin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]core.Task](t, resp), 3)

	resp = doJSON(t, http.MethodGet, srv.URL+"/?limit=banana", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkerEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/workers", map[string]any{
		"name":         "poster",
		"type":         "remote",
		"url":          "http://worker:9000/run",
		"taskPatterns": []string{"comment.*"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[core.Worker](t, resp)
	assert.Equal(t, core.WorkerRemote, created.Type)

	// Local registration is an in-process API, not an HTTP one.
	resp = doJSON(t, http.MethodPost, srv.URL+"/workers", map[string]any{
		"name":         "local-thing",
		"taskPatterns": []string{"*"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/workers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workers := decode[[]core.Worker](t, resp)
	require.Len(t, workers, 1)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/workers/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodDelete, srv.URL+"/workers/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitEndpoints(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/ratelimits", map[string]any{
		"pattern":    "comment.*",
		"maxPerHour": 2,
		"maxPerDay":  10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	limit := decode[core.RateLimit](t, resp)
	assert.Equal(t, "comment.*", limit.Pattern)
	assert.Equal(t, 2, limit.MaxPerHour)

	resp = doJSON(t, http.MethodGet, srv.URL+"/ratelimits", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	limits := decode[[]core.RateLimit](t, resp)
	require.Len(t, limits, 1)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/ratelimits/comment.*", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/ratelimits", nil)
	assert.Len(t, decode[[]core.RateLimit](t, resp), 0)
}

func TestStatsAndHealth(t *testing.T) {
	eng, srv := newTestServer(t)

	_, err := eng.Submit(context.Background(), core.TaskSpec{Type: "a.b"})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, srv.URL+"/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[engine.Stats](t, resp)
	assert.Equal(t, 1, stats.TotalTasks)
	assert.Equal(t, 1, stats.Tasks[core.StatusQueued])

	resp = doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", health["status"])
}
