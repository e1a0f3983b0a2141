package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/platform/httpx"
	"github.com/certified-builder/api/internal/services"
)

// ProductHandlers exposes certificate reads and the product deletion workflow.
type ProductHandlers struct {
	certificates services.CertificateService
	products     services.ProductService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(certificates services.CertificateService, products services.ProductService) *ProductHandlers {
	return &ProductHandlers{
		certificates: certificates,
		products:     products,
	}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Delete("/{productId}", h.deleteProduct)
	r.Get("/{productId}/certificates", h.listCertificates)
	r.Post("/{productId}/certificates:notify", h.notifyCertificates)
	r.Get("/{productId}/certificates/stats", h.certificateStats)
}

type certificateListResponse struct {
	Items []services.CertificateView `json:"items"`
}

func (h *ProductHandlers) listCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.certificates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("certificate_service_unavailable", "certificate service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID, ok := productIDParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	views, err := h.certificates.ListCertificates(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if views == nil {
		views = []services.CertificateView{}
	}
	httpx.WriteJSON(w, http.StatusOK, certificateListResponse{Items: views})
}

func (h *ProductHandlers) notifyCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.certificates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("certificate_service_unavailable", "certificate service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID, ok := productIDParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	views, err := h.certificates.NotifyCertificates(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if views == nil {
		views = []services.CertificateView{}
	}
	httpx.WriteJSON(w, http.StatusOK, certificateListResponse{Items: views})
}

func (h *ProductHandlers) certificateStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.certificates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("certificate_service_unavailable", "certificate service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID, ok := productIDParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	stats, err := h.certificates.Stats(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID, ok := productIDParam(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId must be a positive integer", http.StatusBadRequest))
		return
	}

	deletion, err := h.products.DeleteProduct(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deletion)
}
