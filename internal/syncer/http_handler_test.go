package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/auth"
	"catalogsync/internal/httpx"
	"catalogsync/internal/logging"
	"catalogsync/internal/sheet"
	"catalogsync/internal/testutil"
)

const (
	testJWTSecret      = "test-secret"
	testInternalSecret = "tick-secret"
)

func newTestRouter(t *testing.T, h *harness) http.Handler {
	t.Helper()
	handler := NewHTTPHandler(h.svc, testInternalSecret, logging.Discard())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(httpx.AdminMiddleware(testJWTSecret))
		handler.Routes(r)
	})
	r.Route("/internal", handler.InternalRoutes)
	return r
}

func adminToken() string {
	return testutil.GenerateTestToken(testJWTSecret, "admin-1", auth.RoleAdmin)
}

func serve(router http.Handler, r *http.Request) testutil.RecordResponse {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return testutil.RecordHTTPResponse(w)
}

func TestHTTPHandler_RequiresAdmin(t *testing.T) {
	h := newHarness(t, enabledConfig(2), candidates("A"))
	router := newTestRouter(t, h)

	resp := serve(router, testutil.NewRequest(http.MethodGet, "/api/sync/status", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	worker := testutil.GenerateTestToken(testJWTSecret, "worker-1", auth.RoleWorker)
	resp = serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/status", nil, worker))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestHTTPHandler_Start(t *testing.T) {
	t.Run("sync run", func(t *testing.T) {
		h := newHarness(t, enabledConfig(2), candidates("A1", "A2", "A3", "A4", "A5"))
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start",
			map[string]any{"async": false}, adminToken()))

		require.Equal(t, http.StatusOK, resp.Code)
		data := resp.Data()
		assert.Equal(t, true, data["success"])
		assert.Equal(t, float64(3), data["total_batches"])
		assert.Equal(t, float64(5), data["total_products"])
		assert.NotEmpty(t, data["run_id"])
		prog := data["progress"].(map[string]any)
		assert.Equal(t, float64(100), prog["percent"])
	})

	t.Run("async run", func(t *testing.T) {
		h := newHarness(t, enabledConfig(2), candidates("A1", "A2", "A3"))
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start",
			map[string]any{"async": true}, adminToken()))

		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, true, resp.Data()["async"])
		assert.Len(t, h.publisher.sorted(), 2)
	})

	t.Run("already running", func(t *testing.T) {
		h := newHarness(t, enabledConfig(2), candidates("A"))
		require.NoError(t, h.tracker.SetInProgress(context.Background(), true))
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start", nil, adminToken()))
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Equal(t, "SYNC_IN_PROGRESS", resp.ErrorCode())
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := enabledConfig(2)
		cfg.Enabled = false
		h := newHarness(t, cfg, candidates("A"))
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start", nil, adminToken()))
		assert.Equal(t, http.StatusForbidden, resp.Code)
		assert.Equal(t, "SYNC_DISABLED", resp.ErrorCode())
	})

	t.Run("bad sheet", func(t *testing.T) {
		h := newHarness(t, enabledConfig(2), nil)
		h.reader.err = &sheet.FormatError{Reason: "sku column not found"}
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start", nil, adminToken()))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
		assert.Equal(t, "INVALID_SHEET", resp.ErrorCode())
	})

	t.Run("empty sheet", func(t *testing.T) {
		h := newHarness(t, enabledConfig(2), nil)
		router := newTestRouter(t, h)

		resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/start", nil, adminToken()))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, false, resp.Data()["success"])
		assert.Equal(t, true, resp.Data()["empty"])
	})
}

func TestHTTPHandler_BatchSteps(t *testing.T) {
	h := newHarness(t, enabledConfig(2), candidates("A1", "A2", "A3"))
	router := newTestRouter(t, h)
	token := adminToken()

	resp := serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/batch",
		map[string]any{"batch_number": 0}, token))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), resp.Data()["next_batch"])
	assert.Equal(t, float64(2), resp.Data()["total_batches"])
	assert.Equal(t, float64(3), resp.Data()["total_products"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/batch",
		map[string]any{"batch_number": 1}, token))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, resp.Data()["continue"])
	assert.Equal(t, float64(2), resp.Data()["next_batch"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/batch",
		map[string]any{"batch_number": 2}, token))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, resp.Data()["continue"])
	prog := resp.Data()["progress"].(map[string]any)
	assert.Equal(t, float64(100), prog["percent"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/batch",
		map[string]any{"batch_number": 1}, token))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "PLAN_NOT_FOUND", resp.ErrorCode())

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/batch",
		map[string]any{"batch_number": -1}, token))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.ErrorCode())
}

func TestHTTPHandler_StatusAndStop(t *testing.T) {
	h := newHarness(t, enabledConfig(2), nil)
	router := newTestRouter(t, h)
	token := adminToken()

	resp := serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/status", nil, token))
	require.Equal(t, http.StatusOK, resp.Code)
	data := resp.Data()
	assert.Equal(t, false, data["in_progress"])
	assert.Equal(t, float64(0), data["total"])
	assert.Equal(t, float64(0), data["percent"])

	require.NoError(t, h.tracker.SetInProgress(context.Background(), true))

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodPost, "/api/sync/stop", nil, token))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Synchronization process has been stopped.", resp.Data()["message"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/status", nil, token))
	assert.Equal(t, false, resp.Data()["in_progress"])
}

func TestHTTPHandler_Runs(t *testing.T) {
	h := newHarness(t, enabledConfig(10), candidates("A", "B"))
	router := newTestRouter(t, h)
	token := adminToken()

	res, err := h.svc.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	resp := serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/runs?limit=5", nil, token))
	require.Equal(t, http.StatusOK, resp.Code)
	runs := resp.Body["data"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].(map[string]any)["id"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/runs/"+res.RunID, nil, token))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "COMPLETED", resp.Data()["status"])

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodGet, "/api/sync/runs/not-a-uuid", nil, token))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = serve(router, testutil.NewRequestWithAuth(http.MethodGet,
		"/api/sync/runs/00000000-0000-4000-8000-000000000000", nil, token))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHTTPHandler_Tick(t *testing.T) {
	cfg := enabledConfig(2)
	cfg.ScheduleEnabled = true
	h := newHarness(t, cfg, candidates("A"))
	router := newTestRouter(t, h)

	resp := serve(router, testutil.NewRequest(http.MethodPost, "/internal/jobs/sync-tick", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := testutil.NewRequest(http.MethodPost, "/internal/jobs/sync-tick", nil)
	req.Header.Set("X-Internal-Secret", testInternalSecret)
	resp = serve(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, resp.Data()["started"])
}
