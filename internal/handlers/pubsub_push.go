package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/certified-builder/api/internal/platform/httpx"
	"github.com/certified-builder/api/internal/services"
)

const maxPushRequestBody = 10 << 20

// pushEnvelope is the body Pub/Sub push subscriptions deliver.
type pushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type pushResponse struct {
	MessageID string `json:"messageId,omitempty"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Discarded bool   `json:"discarded,omitempty"`
}

// PubSubPushHandlers receives completion messages pushed by Pub/Sub.
type PubSubPushHandlers struct {
	events services.CertificateEventProcessor
}

// NewPubSubPushHandlers constructs the push endpoint handlers.
func NewPubSubPushHandlers(events services.CertificateEventProcessor) *PubSubPushHandlers {
	return &PubSubPushHandlers{events: events}
}

// Routes registers POST /pubsub/certificate-events.
func (h *PubSubPushHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/pubsub/certificate-events", h.receive)
}

// receive answers 2xx for every message it consumed, including undecodable event payloads, so
// Pub/Sub does not redeliver poison messages. A malformed envelope is rejected with 400.
func (h *PubSubPushHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.events == nil {
		httpx.WriteError(ctx, w, httpx.NewError("event_processor_unavailable", "certificate event processor unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPushRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid push envelope", http.StatusBadRequest))
		return
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envelope.Message.Data))
	if err != nil || len(data) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message data must be non-empty base64", http.StatusBadRequest))
		return
	}

	response := pushResponse{MessageID: envelope.Message.MessageID}
	outcome, err := h.events.HandleMessage(ctx, data)
	switch {
	case errors.Is(err, services.ErrEventPayloadInvalid):
		response.Discarded = true
	case err != nil:
		writeServiceError(ctx, w, err)
		return
	}

	if outcome.Redeliver() {
		// a non-2xx answer makes Pub/Sub push the message again
		httpx.WriteError(ctx, w, httpx.NewError("certificate_events_incomplete",
			fmt.Sprintf("%d of %d certificate events must be retried", outcome.Retryable, outcome.Processed+outcome.Skipped+outcome.Failed),
			http.StatusServiceUnavailable))
		return
	}

	response.Processed = outcome.Processed
	response.Skipped = outcome.Skipped
	response.Failed = outcome.Failed
	httpx.WriteJSON(w, http.StatusOK, response)
}
