// Package handlers contains the HTTP handler implementations for the
// Pulseboard billing API.
//
// The Stripe webhook handler is NOT behind auth middleware -- it is called
// directly by Stripe. Security is provided by verifying the Stripe-Signature
// header over the raw request body.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pulseboard/internal/billing"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe payloads are typically small; this limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// receivedBody is the acknowledgment Stripe expects. The exact body is part
// of the endpoint contract; do not route it through the standard response
// envelope.
const receivedBody = `{"received": true}`

// WebhookVerifier checks the provider signature over the raw payload.
// Satisfied by external.StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EventProcessor runs a verified event through the dedup ledger and the
// dispatch table. Satisfied by billing.Processor.
type EventProcessor interface {
	Process(ctx context.Context, ev *billing.Event) (billing.Outcome, error)
}

// StripeWebhookHandler handles asynchronous events from Stripe.
type StripeWebhookHandler struct {
	verifier  WebhookVerifier
	processor EventProcessor
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	processor EventProcessor,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		processor: processor,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Mounted under the
// unauthenticated /webhooks subtree by core.Server.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeWebhookError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Handle processes one Stripe webhook delivery.
//
//  1. Read the raw body (byte-exact; signature verification depends on it).
//  2. Verify the Stripe-Signature header.
//  3. Parse the envelope.
//  4. Reserve in the dedup ledger, dispatch, record the outcome.
//
// 4xx responses never reach the ledger. 5xx tells Stripe to redeliver.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		writeWebhookError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		writeWebhookError(w, http.StatusBadRequest, "Missing stripe-signature header")
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		writeWebhookError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	ev, err := billing.ParseEvent(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event",
			"error", err,
		)
		writeWebhookError(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", ev.ID,
		"event_type", ev.Type,
	)

	outcome, err := h.processor.Process(r.Context(), ev)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		// 5xx so Stripe's own redelivery schedule retries the event.
		writeWebhookError(w, http.StatusInternalServerError, "Webhook handler failed")
		return
	}

	if outcome.Duplicate {
		h.logger.InfoContext(r.Context(), "duplicate webhook delivery",
			"event_id", ev.ID,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(receivedBody))
}

// writeWebhookError writes the minimal {"error": "..."} body Stripe sees.
func writeWebhookError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Write(body)
}
