package handlers_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/api/handlers"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/testutil"
	"github.com/richjun-project/vibescan/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func webhookRequest(t *testing.T, event billing.WebhookEvent, secret string) *http.Request {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/billing/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", token.Sign(secret, body))
	}
	return req
}

func TestBillingHandler_Webhook(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()

	svc := billing.NewService(tc.DB, slog.Default())
	handler := handlers.NewBillingHandler(svc, testWebhookSecret)

	t.Run("valid event upgrades plan", func(t *testing.T) {
		req := webhookRequest(t, billing.WebhookEvent{
			Type:   billing.EventSubscriptionUpdated,
			UserID: tc.User.ID,
			Plan:   "pro",
			Status: "active",
		}, testWebhookSecret)

		rec := httptest.NewRecorder()
		handler.Webhook(rec, req)
		testutil.AssertStatus(t, rec, http.StatusOK)

		var sub models.Subscription
		require.NoError(t, tc.DB.First(&sub, "user_id = ?", tc.User.ID).Error)
		assert.Equal(t, models.PlanPro, sub.Plan)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := webhookRequest(t, billing.WebhookEvent{
			Type:   billing.EventSubscriptionUpdated,
			UserID: tc.User.ID,
			Plan:   "pro",
		}, "")

		rec := httptest.NewRecorder()
		handler.Webhook(rec, req)
		testutil.AssertStatus(t, rec, http.StatusUnauthorized)
	})

	t.Run("wrong signature", func(t *testing.T) {
		req := webhookRequest(t, billing.WebhookEvent{
			Type:   billing.EventSubscriptionUpdated,
			UserID: tc.User.ID,
			Plan:   "pro",
		}, "whsec_other")

		rec := httptest.NewRecorder()
		handler.Webhook(rec, req)
		testutil.AssertStatus(t, rec, http.StatusUnauthorized)
	})

	t.Run("unknown event type", func(t *testing.T) {
		req := webhookRequest(t, billing.WebhookEvent{
			Type:   "invoice.paid",
			UserID: tc.User.ID,
		}, testWebhookSecret)

		rec := httptest.NewRecorder()
		handler.Webhook(rec, req)
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("unknown user", func(t *testing.T) {
		req := webhookRequest(t, billing.WebhookEvent{
			Type:   billing.EventSubscriptionUpdated,
			UserID: uuid.New(),
			Plan:   "pro",
		}, testWebhookSecret)

		rec := httptest.NewRecorder()
		handler.Webhook(rec, req)
		testutil.AssertStatus(t, rec, http.StatusNotFound)
	})
}
