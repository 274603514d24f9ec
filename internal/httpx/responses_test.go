package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ContextWithRequestID(r.Context(), "req-1"))

	JSONSuccess(w, r, map[string]string{"key": "value"}, map[string]any{"total": 10})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "value", body["data"].(map[string]any)["key"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "req-1", meta["request_id"])
	assert.Equal(t, float64(10), meta["total"])
}

func TestJSONSuccess_NoMeta(t *testing.T) {
	w := httptest.NewRecorder()
	JSONSuccess(w, httptest.NewRequest(http.MethodGet, "/", nil), "ok", nil)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	_, hasMeta := body["meta"]
	assert.False(t, hasMeta)
}

func TestJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	details := []ErrorDetail{{Field: "batch_number", Message: "must be >= 0"}}

	JSONError(w, httptest.NewRequest(http.MethodPost, "/", nil), http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, details, resp.Error.Details)
}

func TestValidateStruct(t *testing.T) {
	type req struct {
		BatchNumber int    `validate:"gte=0"`
		RunID       string `validate:"required"`
	}

	assert.Nil(t, ValidateStruct(req{BatchNumber: 1, RunID: "r"}))

	details := ValidateStruct(req{BatchNumber: -1})
	require.Len(t, details, 2)
	assert.Equal(t, "batch_number", details[0].Field)
	assert.Equal(t, "BatchNumber must be at least 0", details[0].Message)
	assert.Equal(t, "run_id", details[1].Field)
	assert.Equal(t, "RunID is required", details[1].Message)
}
