package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerMiddleware_LogsRouteAndProduct(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), TraceMiddleware("cb-dev"), RequestLoggerMiddleware("cb-dev"))
	router.Get("/api/v1/products/{productId}/certificates", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/42/certificates", nil)
	req.Header.Set(CloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/api/v1/products/{productId}/certificates" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
	if fields["productId"] != "42" {
		t.Fatalf("unexpected productId %v", fields["productId"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status %v", fields["status"])
	}
	if fields["trace_id"] != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected incoming trace id, got %v", fields["trace_id"])
	}
	if fields["logging.googleapis.com/trace"] != "projects/cb-dev/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace resource %v", fields["logging.googleapis.com/trace"])
	}
}

func TestRecoveryMiddleware_WritesInternalError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders:build", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"internal_error"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if logs.FilterMessage("handler panic").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddleware_PanicLogsServerError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := RecoveryMiddleware(nil)(
		InjectLoggerMiddleware(zap.New(core))(
			RequestLoggerMiddleware("")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("boom")
			}))))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error access entry, got %+v", entries)
	}
	if entries[0].ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Fatalf("unexpected status %v", entries[0].ContextMap()["status"])
	}
}

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/123;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTrace(sc); got != "105445aa7843bc8bf206b12000100000/123;o=1" {
		t.Fatalf("unexpected formatted header %s", got)
	}

	for _, header := range []string{"", "nothex/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/abc", "105445aa7843bc8bf206b12000100000/0;o=1"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := sanitizeString("line\nbreak\x00", 64); got != "linebreak" {
		t.Fatalf("expected control characters stripped, got %q", got)
	}
	if got := sanitizeString("ééééé", 3); got != "ééé" {
		t.Fatalf("expected rune truncation, got %q", got)
	}
	if SanitizeRoute("") != "/" {
		t.Fatalf("expected empty route to map to /")
	}
}
