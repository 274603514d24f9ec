package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"catalogsync/internal/httpx"
	"catalogsync/internal/runlog"
	"catalogsync/internal/sheet"
)

type HTTPHandler struct {
	svc            *Service
	internalSecret string
	logger         *slog.Logger
}

func NewHTTPHandler(svc *Service, internalSecret string, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, internalSecret: internalSecret, logger: logger}
}

// Routes mounts the admin sync endpoints on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/sync/start", h.Start)
	r.Post("/sync/batch", h.Batch)
	r.Get("/sync/status", h.Status)
	r.Post("/sync/stop", h.Stop)
	r.Get("/sync/runs", h.ListRuns)
	r.Get("/sync/runs/{id}", h.GetRun)
}

// InternalRoutes mounts the scheduler endpoint guarded by the internal
// secret header.
func (h *HTTPHandler) InternalRoutes(r chi.Router) {
	r.Post("/jobs/sync-tick", h.Tick)
}

type startRequest struct {
	Async bool `json:"async"`
}

type batchRequest struct {
	BatchNumber int    `json:"batch_number" validate:"gte=0"`
	RunID       string `json:"run_id"`
}

// Start handles POST /api/sync/start
// @Summary Start a catalog sync
// @Tags sync
// @Accept json
// @Produce json
// @Param request body startRequest false "Run options"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Router /api/sync/start [post]
func (h *HTTPHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
			return
		}
	}

	res, err := h.svc.Start(r.Context(), StartOptions{Async: req.Async})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Empty {
		httpx.JSONSuccess(w, r, map[string]any{
			"success": false,
			"empty":   true,
			"message": "No products found in the sheet.",
		}, nil)
		return
	}

	message := fmt.Sprintf("Sync completed: %d products in %d batches", res.TotalProducts, res.TotalBatches)
	switch {
	case res.Async:
		message = fmt.Sprintf("Scheduled %d products in %d batches", res.TotalProducts, res.TotalBatches)
	case res.Stopped:
		message = "Sync was stopped before all batches were processed"
	}

	httpx.JSONSuccess(w, r, map[string]any{
		"success":        true,
		"message":        message,
		"run_id":         res.RunID,
		"total_batches":  res.TotalBatches,
		"total_products": res.TotalProducts,
		"async":          res.Async,
		"stopped":        res.Stopped,
		"progress":       res.Progress,
	}, nil)
}

// Batch handles POST /api/sync/batch
// @Summary Drive a sync one batch per request
// @Description batch_number 0 prepares the run, N>0 processes batch N
// @Tags sync
// @Accept json
// @Produce json
// @Param request body batchRequest true "Batch to process"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /api/sync/batch [post]
func (h *HTTPHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	if details := httpx.ValidateStruct(req); len(details) > 0 {
		httpx.JSONError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", details)
		return
	}

	if req.BatchNumber == 0 {
		res, err := h.svc.Prepare(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if res.Empty {
			httpx.JSONSuccess(w, r, map[string]any{
				"success": false,
				"empty":   true,
				"message": "No products found in the sheet.",
			}, nil)
			return
		}
		httpx.JSONSuccess(w, r, map[string]any{
			"success":        true,
			"message":        fmt.Sprintf("Starting sync with %d products in %d batches", res.TotalProducts, res.TotalBatches),
			"run_id":         res.RunID,
			"next_batch":     res.NextBatch,
			"total_batches":  res.TotalBatches,
			"total_products": res.TotalProducts,
			"continue":       true,
		}, nil)
		return
	}

	res, err := h.svc.ProcessPlannedBatch(r.Context(), req.RunID, req.BatchNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, map[string]any{
		"success":       true,
		"run_id":        res.RunID,
		"next_batch":    res.NextBatch,
		"total_batches": res.TotalBatches,
		"progress":      res.Progress,
		"continue":      res.Continue,
	}, nil)
}

// Status handles GET /api/sync/status
// @Summary Current sync progress
// @Tags sync
// @Produce json
// @Success 200 {object} httpx.SuccessResponse
// @Router /api/sync/status [get]
func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		h.logger.Error("sync status", slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}
	httpx.JSONSuccess(w, r, st, nil)
}

// Stop handles POST /api/sync/stop
// @Summary Request the running sync to stop
// @Tags sync
// @Produce json
// @Success 200 {object} httpx.SuccessResponse
// @Router /api/sync/stop [post]
func (h *HTTPHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Stop(r.Context()); err != nil {
		h.logger.Error("stop sync", slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An error occurred while stopping sync", nil)
		return
	}
	httpx.JSONSuccess(w, r, map[string]any{
		"success": true,
		"message": "Synchronization process has been stopped.",
	}, nil)
}

// ListRuns handles GET /api/sync/runs
func (h *HTTPHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		h.logger.Error("list sync runs", slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	httpx.JSONSuccess(w, r, runs, map[string]any{"count": len(runs)})
}

// GetRun handles GET /api/sync/runs/{id}
func (h *HTTPHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "Sync run not found", nil)
		return
	}

	run, err := h.svc.Run(r.Context(), id)
	if err != nil {
		if errors.Is(err, runlog.ErrNotFound) {
			httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "Sync run not found", nil)
			return
		}
		h.logger.Error("get sync run", slog.String("run_id", id), slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}
	httpx.JSONSuccess(w, r, run, nil)
}

// Tick handles POST /internal/jobs/sync-tick
// @Summary Scheduler tick
// @Tags internal
// @Produce json
// @Param X-Internal-Secret header string true "Internal secret for authentication"
// @Success 200 {object} httpx.SuccessResponse
// @Failure 401 {object} httpx.ErrorResponse
// @Router /internal/jobs/sync-tick [post]
func (h *HTTPHandler) Tick(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Internal-Secret")
	if h.internalSecret == "" || secret != h.internalSecret {
		httpx.JSONError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid internal secret", nil)
		return
	}

	res, err := h.svc.Tick(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, res, nil)
}

// writeError maps orchestrator errors onto the JSON envelope.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fetchErr  *sheet.FetchError
		formatErr *sheet.FormatError
	)
	switch {
	case errors.Is(err, ErrDisabled):
		httpx.JSONError(w, r, http.StatusForbidden, "SYNC_DISABLED",
			"Product Sync is disabled. Please enable it in the configuration.", nil)
	case errors.Is(err, ErrAlreadyRunning):
		httpx.JSONError(w, r, http.StatusConflict, "SYNC_IN_PROGRESS",
			"Sync is already in progress. Please wait for it to complete.", nil)
	case errors.Is(err, ErrPlanNotFound):
		httpx.JSONError(w, r, http.StatusNotFound, "PLAN_NOT_FOUND",
			"Product data not found. Please restart the sync.", nil)
	case errors.Is(err, ErrBatchOutOfRange):
		httpx.JSONError(w, r, http.StatusBadRequest, "BATCH_OUT_OF_RANGE", err.Error(), nil)
	case errors.Is(err, ErrBatchDone):
		httpx.JSONError(w, r, http.StatusConflict, "BATCH_ALREADY_PROCESSED", err.Error(), nil)
	case errors.Is(err, ErrStopped):
		httpx.JSONError(w, r, http.StatusConflict, "SYNC_STOPPED", err.Error(), nil)
	case errors.Is(err, ErrNoPublisher):
		httpx.JSONError(w, r, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", err.Error(), nil)
	case errors.As(err, &fetchErr):
		httpx.JSONError(w, r, http.StatusBadGateway, "FETCH_FAILED", err.Error(), nil)
	case errors.As(err, &formatErr):
		httpx.JSONError(w, r, http.StatusUnprocessableEntity, "INVALID_SHEET", err.Error(), nil)
	default:
		h.logger.Error("sync request failed", slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "SYNC_FAILED",
			fmt.Sprintf("An error occurred: %s", err.Error()), nil)
	}
}
