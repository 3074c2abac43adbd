package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/gridrunner/internal/ratelimit"
	"github.com/shehryarbajwa/gridrunner/pkg/models"
)

type staticSource struct {
	status models.RunStatus
}

func (s staticSource) Snapshot() models.RunStatus { return s.status }

func testStatus() models.RunStatus {
	exitCode := 1
	return models.RunStatus{
		RunID:    "r1",
		State:    "finished",
		ExitCode: &exitCode,
		Workers: []models.WorkerStatus{
			{Index: 0, Browser: "chrome", State: "finished"},
			{Index: 1, Browser: "ie11", State: "finished", ExitCode: 1, Message: "no remote sessions available"},
		},
	}
}

func newTestRouter(limiter *ratelimit.Limiter) http.Handler {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewHandler(staticSource{status: testStatus()}).SetupRoutes(events, limiter)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestRouter(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetRun(t *testing.T) {
	rec := get(t, newTestRouter(nil), "/v1/run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status models.RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "r1", status.RunID)
	require.NotNil(t, status.ExitCode)
	assert.Equal(t, 1, *status.ExitCode)
	assert.Len(t, status.Workers, 2)
}

func TestWorkers(t *testing.T) {
	router := newTestRouter(nil)

	rec := get(t, router, "/v1/run/workers")
	require.Equal(t, http.StatusOK, rec.Code)
	var workers []models.WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	assert.Len(t, workers, 2)

	rec = get(t, router, "/v1/run/workers/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var worker models.WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &worker))
	assert.Equal(t, "ie11", worker.Browser)
	assert.Equal(t, "no remote sessions available", worker.Message)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/v1/run/workers/7").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/v1/run/workers/abc").Code)
}

func TestEventsRoute(t *testing.T) {
	assert.Equal(t, http.StatusTeapot, get(t, newTestRouter(nil), "/v1/run/events").Code)
}

func TestMetricsRoute(t *testing.T) {
	rec := get(t, newTestRouter(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	router := newTestRouter(ratelimit.NewLimiter(1, 2))

	first := get(t, router, "/v1/run")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, get(t, router, "/v1/run").Code)

	limited := get(t, router, "/v1/run")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))

	// health checks are never throttled
	assert.Equal(t, http.StatusOK, get(t, router, "/healthz").Code)
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	router := newTestRouter(ratelimit.NewLimiter(1, 1))

	request := func(forwarded, remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/run", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1", "192.0.2.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.2", "192.0.2.1:1234"))
	assert.Equal(t, http.StatusOK, request("10.0.0.2", "192.0.2.7:1234"))
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", newTestRouter(nil), nil)
	addr, err := srv.Start()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	require.NoError(t, srv.Shutdown(context.Background()))
}
