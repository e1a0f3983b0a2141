package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/services"
)

func pushBody(data string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf(`{"message":{"data":%q,"messageId":"m-1"},"subscription":"projects/p/subscriptions/s"}`, encoded)
}

func servePush(t *testing.T, events services.CertificateEventProcessor, body string) (*httptest.ResponseRecorder, pushResponse) {
	t.Helper()
	r := chi.NewRouter()
	NewPubSubPushHandlers(events).Routes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/pubsub/certificate-events", strings.NewReader(body)))

	var resp pushResponse
	if rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
	}
	return rr, resp
}

func TestPubSubPushProcessesMessage(t *testing.T) {
	events := &stubEventProcessor{outcome: services.EventOutcome{Processed: 2, Skipped: 1}}
	payload := `[{"order_id":1,"success":true,"certificate_key":"k1"}]`

	rr, resp := servePush(t, events, pushBody(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(events.data) != payload {
		t.Fatalf("expected decoded data forwarded, got %q", events.data)
	}
	if resp.MessageID != "m-1" || resp.Processed != 2 || resp.Skipped != 1 || resp.Discarded {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPubSubPushAcknowledgesPoisonPayload(t *testing.T) {
	events := &stubEventProcessor{err: fmt.Errorf("%w: unexpected EOF", services.ErrEventPayloadInvalid)}

	rr, resp := servePush(t, events, pushBody(`{"order_id":`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !resp.Discarded {
		t.Fatalf("expected message to be discarded, got %+v", resp)
	}
}

func TestPubSubPushRejectsMalformedEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `nope`},
		{name: "bad base64", body: `{"message":{"data":"***"}}`},
		{name: "empty data", body: `{"message":{"data":""}}`},
		{name: "empty body", body: ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events := &stubEventProcessor{}
			rr, _ := servePush(t, events, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if events.data != nil {
				t.Fatalf("processor must not be called")
			}
		})
	}
}

func TestPubSubPushSurfacesProcessorErrors(t *testing.T) {
	events := &stubEventProcessor{err: services.ErrCertificateUnavailable}

	rr, _ := servePush(t, events, pushBody(`[]`))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 so Pub/Sub redelivers, got %d", rr.Code)
	}
}

func TestPubSubPushOutcomeDecidesRedelivery(t *testing.T) {
	tests := []struct {
		name    string
		outcome services.EventOutcome
		status  int
	}{
		{name: "store outage", outcome: services.EventOutcome{Processed: 1, Failed: 1, Retryable: 1}, status: http.StatusServiceUnavailable},
		{name: "invalid event only", outcome: services.EventOutcome{Processed: 1, Failed: 1}, status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events := &stubEventProcessor{outcome: tc.outcome}
			rr, _ := servePush(t, events, pushBody(`[{"order_id":1,"success":false}]`))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status != http.StatusOK && !strings.Contains(rr.Body.String(), "certificate_events_incomplete") {
				t.Fatalf("unexpected error body %s", rr.Body.String())
			}
		})
	}
}
