package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/lnbits/lncalendar/internal/model"
	"github.com/lnbits/lncalendar/internal/payments"
	"github.com/lnbits/lncalendar/internal/storage"
)

// PaymentConfirmer confirms an appointment once its payment has settled.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, appointmentID string) (model.Appointment, error)
}

type WebhookHandler struct {
	confirmer PaymentConfirmer
	provider  payments.Provider
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func NewWebhookHandler(confirmer PaymentConfirmer, provider payments.Provider, secret string, tolerance time.Duration, logger *slog.Logger) *WebhookHandler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookHandler{confirmer: confirmer, provider: provider, secret: secret, tolerance: tolerance, logger: logger}
}

// Stripe handles payment provider webhooks (no API-key auth; signature
// verification is the auth). The gateway should expose this path publicly.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.secret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	switch evtType {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		// The intent ID is the appointment's payment hash.
		if _, err := h.confirmer.ConfirmPayment(r.Context(), intent.ID); err != nil {
			if storage.IsNotFound(err) {
				// Not every intent on this account belongs to a booking.
				h.logger.Info("stripe: payment intent without appointment ignored", "payment_intent", intent.ID)
				break
			}
			http.Error(w, "failed to confirm payment", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Currencies lists the units the configured payment provider accepts.
func (h *WebhookHandler) Currencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.provider.Currencies(r.Context())
	if err != nil {
		h.logger.Error("list provider currencies", "err", err)
		http.Error(w, "failed to list currencies", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, currencies)
}
