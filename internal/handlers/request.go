package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/platform/httpx"
	"github.com/certified-builder/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// productIDParam parses the {productId} path segment.
func productIDParam(r *http.Request) (int, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "productId"))
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

var serviceErrorRules = []httpx.ErrorRule{
	{Target: services.ErrIntakeInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrCertificateInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrProductInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrEventPayloadInvalid, Code: "invalid_event_payload", Status: http.StatusBadRequest},
	{Target: services.ErrCertificateProductNotFound, Code: "product_not_found", Status: http.StatusNotFound},
	{Target: services.ErrProductNotFound, Code: "product_not_found", Status: http.StatusNotFound},
	{Target: services.ErrOrderSourceUnavailable, Code: "order_source_unavailable", Status: http.StatusBadGateway},
	{Target: services.ErrPublishFailed, Code: "publish_failed", Status: http.StatusBadGateway},
	{Target: services.ErrIntakeUnavailable, Code: "intake_unavailable", Status: http.StatusServiceUnavailable},
	{Target: services.ErrCertificateUnavailable, Code: "certificate_unavailable", Status: http.StatusServiceUnavailable},
	{Target: services.ErrProductUnavailable, Code: "product_unavailable", Status: http.StatusServiceUnavailable},
	{Target: context.DeadlineExceeded, Code: "timeout", Status: http.StatusGatewayTimeout},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.FromError(err, "internal_error", serviceErrorRules...))
}
