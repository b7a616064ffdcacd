package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/richjun-project/vibescan/internal/api/dto"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/pkg/token"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Webhook-Signature"

type BillingHandler struct {
	billingService *billing.Service
	webhookSecret  string
}

func NewBillingHandler(billingService *billing.Service, webhookSecret string) *BillingHandler {
	return &BillingHandler{billingService: billingService, webhookSecret: webhookSecret}
}

// Webhook handles POST /api/v1/billing/webhook. Called by the payment
// provider, not by users; authenticated by signature instead of JWT.
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Failed to read body"})
		return
	}

	sig := r.Header.Get(signatureHeader)
	if sig == "" || !token.VerifySignature(h.webhookSecret, body, sig) {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var event billing.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid payload"})
		return
	}

	if err := h.billingService.ApplyWebhook(r.Context(), event); err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownEvent):
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Unknown event type"})
		case errors.Is(err, billing.ErrUnknownUser):
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Unknown user"})
		default:
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to apply event"})
		}
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Event applied"})
}
