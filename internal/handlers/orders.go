package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/platform/httpx"
	"github.com/certified-builder/api/internal/services"
)

const maxBuildRequestBody = 8 << 20

type buildOrdersRequest struct {
	ProductID int                 `json:"productId"`
	Orders    []services.RawOrder `json:"orders"`
}

// OrderHandlers exposes the order intake endpoint.
type OrderHandlers struct {
	intake services.IntakeService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(intake services.IntakeService) *OrderHandlers {
	return &OrderHandlers{intake: intake}
}

// Routes registers POST /orders:build.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:build", h.buildOrders)
}

// buildOrders ingests either the orders of a product fetched from the order source or an
// explicit list of raw orders.
func (h *OrderHandlers) buildOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.intake == nil {
		httpx.WriteError(ctx, w, httpx.NewError("intake_service_unavailable", "intake service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxBuildRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req buildOrdersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	var result services.BuildOrdersResult
	switch {
	case req.Orders != nil:
		result, err = h.intake.BuildOrdersFromRaw(ctx, req.Orders)
	case req.ProductID > 0:
		result, err = h.intake.BuildOrders(ctx, req.ProductID)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId or orders is required", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}
