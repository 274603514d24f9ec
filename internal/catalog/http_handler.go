package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"catalogsync/internal/httpx"
)

type HTTPHandler struct {
	svc    *Service
	logger *slog.Logger
}

func NewHTTPHandler(svc *Service, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Routes mounts the product endpoints on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/products", h.Search)
	r.Get("/products/{sku}", h.GetBySKU)
}

// Search handles GET /api/products
func (h *HTTPHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	q := ListQuery{
		Q:          query.Get("q"),
		SyncedOnly: query.Get("synced") == "1" || query.Get("synced") == "true",
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}

	products, total, err := h.svc.Search(r.Context(), q)
	if err != nil {
		h.logger.Error("search products", slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}
	if products == nil {
		products = []Product{}
	}

	httpx.JSONSuccess(w, r, products, map[string]any{
		"page":        page,
		"page_size":   pageSize,
		"total":       total,
		"total_pages": (total + pageSize - 1) / pageSize,
	})
}

// GetBySKU handles GET /api/products/{sku}
func (h *HTTPHandler) GetBySKU(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if sku == "" {
		httpx.JSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "SKU is required", nil)
		return
	}

	product, err := h.svc.GetBySKU(r.Context(), sku)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.JSONError(w, r, http.StatusNotFound, "NOT_FOUND", "Product not found", nil)
			return
		}
		h.logger.Error("get product", slog.String("sku", sku), slog.Any("error", err))
		httpx.JSONError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
		return
	}

	httpx.JSONSuccess(w, r, product, nil)
}
