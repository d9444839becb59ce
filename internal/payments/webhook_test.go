package payments

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
)

func signed(body string) WebhookInput {
	return WebhookInput{Body: []byte(body), Signature: simplepay.Sign(testSecret, []byte(body))}
}

const successBody = `{"status":"SUCCESS","orderRef":"WEB_u1_1772366400000","transactionId":"sp-200","orderId":"ord-9"}`

func TestWebhookSuccessReconciles(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)

	res := h.svc.HandleWebhook(context.Background(), signed(successBody))
	assert.Equal(t, WebhookResult{StatusCode: http.StatusOK, Message: "OK"}, res)

	require.Equal(t, 1, h.granter.callCount())
	assert.Equal(t, grantCall{userID: "u1", planID: plans.CanonicalMonthly, txID: "sp-200", orderID: "ord-9"}, h.granter.calls[0])

	stored := h.payments.get("WEB_u1_1772366400000")
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, "ord-9", *stored.OrderID)
	assert.Equal(t, []int{200}, h.metrics.webhook)
}

func TestWebhookFinishedIsSuccess(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)

	res := h.svc.HandleWebhook(context.Background(), signed(`{"status":"finished","orderRef":"WEB_u1_1"}`))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, h.granter.callCount())
}

func TestWebhookTamperedBodyRejected(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)

	in := signed(successBody)
	tampered := []byte(successBody)
	tampered[len(tampered)-3] = 'X'
	in.Body = tampered

	res := h.svc.HandleWebhook(context.Background(), in)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Zero(t, h.granter.callCount())
	assert.Equal(t, models.PaymentStatusInitiated, h.payments.get("WEB_u1_1772366400000").Status)
}

func TestWebhookSignatureFailures(t *testing.T) {
	t.Run("missing signature", func(t *testing.T) {
		h := newHarness(t)
		h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)
		res := h.svc.HandleWebhook(context.Background(), WebhookInput{Body: []byte(successBody)})
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		assert.Equal(t, "Missing signature", res.Message)
		assert.Zero(t, h.granter.callCount())
		assert.Equal(t, models.PaymentStatusInitiated, h.payments.get("WEB_u1_1772366400000").Status)
	})

	t.Run("secret not configured", func(t *testing.T) {
		h := newHarness(t)
		h.svc.cfg.SimplePay.SecretKey = ""
		res := h.svc.HandleWebhook(context.Background(), signed(successBody))
		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
		assert.Zero(t, h.granter.callCount())
	})
}

func TestWebhookOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		setup   func(h *harness)
		code    int
		message string
		grants  int
	}{
		{
			name:    "non terminal status acknowledged",
			body:    `{"status":"INPAYMENT","orderRef":"WEB_u1_1"}`,
			setup:   func(h *harness) { h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source) },
			code:    http.StatusOK,
			message: "OK",
		},
		{
			name:    "malformed json",
			body:    `{"status":`,
			code:    http.StatusBadRequest,
			message: "Invalid payload",
		},
		{
			name:    "malformed order reference",
			body:    `{"status":"SUCCESS","orderRef":"bogus"}`,
			code:    http.StatusBadRequest,
			message: "Invalid order reference",
		},
		{
			name:    "unknown payment",
			body:    `{"status":"SUCCESS","orderRef":"WEB_u1_1"}`,
			code:    http.StatusNotFound,
			message: "Payment record not found",
		},
		{
			name:    "other product",
			body:    `{"status":"SUCCESS","orderRef":"WEB_u1_1"}`,
			setup:   func(h *harness) { h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, "legacy") },
			code:    http.StatusOK,
			message: "OK - not LexGO",
		},
		{
			name:    "invalid plan",
			body:    `{"status":"SUCCESS","orderRef":"WEB_u1_1"}`,
			setup:   func(h *harness) { h.seedPayment("WEB_u1_1", "u1", "retired_plan", Source) },
			code:    http.StatusBadRequest,
			message: "Invalid plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			res := h.svc.HandleWebhook(context.Background(), signed(tt.body))
			assert.Equal(t, tt.code, res.StatusCode)
			assert.Equal(t, tt.message, res.Message)
			assert.Equal(t, tt.grants, h.granter.callCount())
		})
	}
}

func TestWebhookForCompletedPaymentDoesNotRegrant(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)

	first := h.svc.HandleWebhook(context.Background(), signed(successBody))
	require.Equal(t, http.StatusOK, first.StatusCode)
	expiry := h.granter.expiry["u1"]

	// A later redelivery must not move the expiry or error.
	h.granter.now = func() time.Time { return testNow.Add(48 * time.Hour) }
	second := h.svc.HandleWebhook(context.Background(), signed(successBody))
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, 1, h.granter.callCount())
	assert.Equal(t, expiry, h.granter.expiry["u1"])
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
	plan, err := plans.Default().Resolve(plans.CanonicalMonthly)
	require.NoError(t, err)

	p, err := h.payments.GetPayment(context.Background(), "WEB_u1_1")
	require.NoError(t, err)
	applied, err := h.svc.reconcile(context.Background(), p, "u1", plan, "tx", "")
	require.NoError(t, err)
	assert.True(t, applied)
	expiry := h.granter.expiry["u1"]

	p, err = h.payments.GetPayment(context.Background(), "WEB_u1_1")
	require.NoError(t, err)
	applied, err = h.svc.reconcile(context.Background(), p, "u1", plan, "tx", "")
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, 1, h.granter.callCount())
	assert.Equal(t, expiry, h.granter.expiry["u1"])
	assert.Equal(t, models.PaymentStatusCompleted, h.payments.get("WEB_u1_1").Status)
}

func TestConfirmAndWebhookRace(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusSuccess, TransactionID: "sp-200"}

	var wg sync.WaitGroup
	var confirmErr error
	var hook WebhookResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = h.svc.Confirm(context.Background(), "WEB_u1_1772366400000")
	}()
	go func() {
		defer wg.Done()
		hook = h.svc.HandleWebhook(context.Background(), signed(successBody))
	}()
	wg.Wait()

	require.NoError(t, confirmErr)
	assert.Equal(t, http.StatusOK, hook.StatusCode)

	// Both paths may grant, but always to the same expiry.
	grants := h.granter.callCount()
	assert.GreaterOrEqual(t, grants, 1)
	assert.LessOrEqual(t, grants, 2)
	assert.Equal(t, testNow.AddDate(0, 0, 30), h.granter.expiry["u1"])
	assert.Equal(t, models.PaymentStatusCompleted, h.payments.get("WEB_u1_1772366400000").Status)
}
