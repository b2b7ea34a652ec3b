package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"ticketcap/internal/service"
)

const maxWebhookBodyBytes = 1 << 20

type WebhookReceiver interface {
	Receive(ctx context.Context, body []byte, signature string) (service.Outcome, error)
}

type WebhookHandler struct {
	logger   *log.Logger
	receiver WebhookReceiver
}

func NewWebhookHandler(logger *log.Logger, receiver WebhookReceiver) *WebhookHandler {
	return &WebhookHandler{
		logger:   logger,
		receiver: receiver,
	}
}

type WebhookResponsePayload struct {
	Received bool `json:"received"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Printf("Method not allowed for /webhook: %s", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Printf("Failed to read webhook body: %v", err)
		http.Error(w, "Webhook Error: unreadable body", http.StatusBadRequest)
		return
	}

	reqID := RequestIDFromContext(r.Context())
	outcome, err := h.receiver.Receive(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, service.ErrAuthentication) {
			http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Printf("Unexpected webhook error request_id=%s: %v", reqID, err)
	}
	h.logger.Printf("Webhook delivery acknowledged request_id=%s outcome=%s", reqID, outcome)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(WebhookResponsePayload{Received: true}); err != nil {
		h.logger.Printf("Error encoding webhook response: %v", err)
	}
}
