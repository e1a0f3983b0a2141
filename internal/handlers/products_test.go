package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/services"
)

func newProductRouter(certs services.CertificateService, products services.ProductService) chi.Router {
	r := chi.NewRouter()
	NewProductHandlers(certs, products).Routes(r)
	return r
}

func TestProductHandlersListCertificates(t *testing.T) {
	success := true
	certs := &stubCertificateService{views: []services.CertificateView{
		{Success: &success, CertificateID: "c1", ProductID: 100, OrderID: 1001},
	}}
	router := newProductRouter(certs, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/100/certificates", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Items []services.CertificateView `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].CertificateID != "c1" {
		t.Fatalf("unexpected items %+v", body.Items)
	}
	if certs.productID != 100 {
		t.Fatalf("expected product 100, got %d", certs.productID)
	}
}

func TestProductHandlersEmptyListIsArray(t *testing.T) {
	router := newProductRouter(&stubCertificateService{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/100/certificates", nil))

	if got := rr.Body.String(); got != "{\"items\":[]}\n" {
		t.Fatalf("expected empty items array, got %q", got)
	}
}

func TestProductHandlersStats(t *testing.T) {
	certs := &stubCertificateService{stats: services.CertificateStats{ProductID: 100, Total: 3, Succeeded: 1, Failed: 1, Pending: 1}}
	router := newProductRouter(certs, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/100/certificates/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var stats services.CertificateStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	certs.err = services.ErrCertificateProductNotFound
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/404/certificates/stats", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersNotify(t *testing.T) {
	certs := &stubCertificateService{}
	router := newProductRouter(certs, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/100/certificates:notify", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !certs.notified {
		t.Fatalf("expected notification to be triggered")
	}

	certs.err = services.ErrOrderSourceUnavailable
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/100/certificates:notify", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestProductHandlersDelete(t *testing.T) {
	now := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	products := &stubProductService{now: now}
	router := newProductRouter(nil, products)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/100", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var deletion services.ProductDeletion
	if err := json.Unmarshal(rr.Body.Bytes(), &deletion); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if deletion.ProductID != 100 || !deletion.DeletedAt.Equal(now) {
		t.Fatalf("unexpected deletion %+v", deletion)
	}

	products.err = services.ErrProductNotFound
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/100", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersRejectInvalidProductID(t *testing.T) {
	router := newProductRouter(&stubCertificateService{}, &stubProductService{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/abc/certificates"},
		{http.MethodGet, "/0/certificates/stats"},
		{http.MethodPost, "/-1/certificates:notify"},
		{http.MethodDelete, "/x"},
	}
	for _, p := range paths {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(p.method, p.path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected status 400, got %d", p.method, p.path, rr.Code)
		}
	}
}
