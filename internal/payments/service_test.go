package payments

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
)

func TestInitiateLegacyPlanChargesCatalogPrice(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Initiate(context.Background(), InitiateInput{PlanID: "monthly_web", UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Regexp(t, regexp.MustCompile(`^WEB_u1_\d+$`), res.OrderRef)
	assert.Equal(t, int64(4350), res.Amount)
	assert.Equal(t, "https://sandbox.simplepay.hu/pay/1", res.PaymentURL)

	require.Len(t, h.gateway.startReqs, 1)
	req := h.gateway.startReqs[0]
	assert.Equal(t, plans.CanonicalMonthly, req.Item.Ref)
	assert.Equal(t, int64(4350), req.Item.Price)
	assert.Equal(t, 1, req.Item.Amount)
	assert.Equal(t, "user@example.com", req.CustomerEmail)
	assert.Equal(t, "https://lexgo.example.com", req.ReturnBase)

	stored := h.payments.get(res.OrderRef)
	assert.Equal(t, models.PaymentStatusInitiated, stored.Status)
	assert.Equal(t, plans.CanonicalMonthly, stored.PlanID)
	assert.Equal(t, Source, stored.Source)
	assert.Equal(t, int64(4350), stored.Amount)
	require.NotNil(t, stored.ProviderTxID)
	assert.Equal(t, "sp-100", *stored.ProviderTxID)

	assert.Equal(t, []string{"ok"}, h.metrics.initiate)
}

func TestInitiateAdminDiscount(t *testing.T) {
	for _, userID := range []string{"admin", "boss"} {
		t.Run(userID, func(t *testing.T) {
			h := newHarness(t)

			res, err := h.svc.Initiate(context.Background(), InitiateInput{PlanID: plans.CanonicalMonthly, UserID: userID})
			require.NoError(t, err)
			assert.Equal(t, int64(5), res.Amount)
			assert.Equal(t, int64(5), h.gateway.startReqs[0].Item.Price)
			assert.Equal(t, int64(5), h.payments.get(res.OrderRef).Amount)
		})
	}
}

func TestInitiateAdminEmailMatchesExactly(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Initiate(context.Background(), InitiateInput{PlanID: plans.CanonicalMonthly, UserID: "bigboss"})
	require.NoError(t, err)
	assert.Equal(t, int64(4350), res.Amount)
}

func TestInitiateErrors(t *testing.T) {
	tests := []struct {
		name  string
		in    InitiateInput
		setup func(h *harness)
		code  Code
	}{
		{name: "missing plan", in: InitiateInput{UserID: "u1"}, code: CodeInvalidArgument},
		{name: "missing user id", in: InitiateInput{PlanID: "monthly_web"}, code: CodeInvalidArgument},
		{name: "unknown plan", in: InitiateInput{PlanID: "yearly", UserID: "u1"}, code: CodeInvalidArgument},
		{name: "unknown user", in: InitiateInput{PlanID: "monthly_web", UserID: "ghost"}, code: CodeNotFound},
		{name: "no consent", in: InitiateInput{PlanID: "monthly_web", UserID: "noc"}, code: CodeFailedPrecondition},
		{name: "no email", in: InitiateInput{PlanID: "monthly_web", UserID: "nomail"}, code: CodeFailedPrecondition},
		{
			name: "not configured",
			in:   InitiateInput{PlanID: "monthly_web", UserID: "u1"},
			setup: func(h *harness) {
				h.svc.cfg.SimplePay.SecretKey = ""
			},
			code: CodeFailedPrecondition,
		},
		{
			name: "gateway http failure",
			in:   InitiateInput{PlanID: "monthly_web", UserID: "u1"},
			setup: func(h *harness) {
				h.gateway.startErr = &simplepay.HTTPError{Endpoint: "start", Status: 502}
			},
			code: CodeInternal,
		},
		{
			name: "gateway missing payment url",
			in:   InitiateInput{PlanID: "monthly_web", UserID: "u1"},
			setup: func(h *harness) {
				h.gateway.startErr = simplepay.ErrMissingPaymentURL
			},
			code: CodeFailedPrecondition,
		},
		{
			name: "persist failure",
			in:   InitiateInput{PlanID: "monthly_web", UserID: "u1"},
			setup: func(h *harness) {
				h.payments.createErr = errors.New("connection reset")
			},
			code: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := h.svc.Initiate(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Equal(t, []string{string(tt.code)}, h.metrics.initiate)
		})
	}
}

func TestInitiateDoesNotLeakInternalDetail(t *testing.T) {
	h := newHarness(t)
	h.payments.createErr = errors.New("pq: password authentication failed")

	_, err := h.svc.Initiate(context.Background(), InitiateInput{PlanID: "monthly_web", UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, "internal error", PublicMessage(err))
}

func TestConfirmNotYetPaidLeavesPaymentInitiated(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", plans.CanonicalMonthly, Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusFail, RawStatus: "FAIL"}

	res, err := h.svc.Confirm(context.Background(), "WEB_u1_1772366400000")
	require.NoError(t, err)
	assert.Equal(t, &ConfirmResult{Success: false, Status: "FAIL"}, res)

	assert.Equal(t, models.PaymentStatusInitiated, h.payments.get("WEB_u1_1772366400000").Status)
	assert.Zero(t, h.granter.callCount())
	assert.Equal(t, []string{"pending"}, h.metrics.confirm)
}

func TestConfirmSuccessGrantsAndCompletes(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1772366400000", "u1", "monthly_web", Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusSuccess, RawStatus: "SUCCESS", OrderID: "ord-1"}

	res, err := h.svc.Confirm(context.Background(), "WEB_u1_1772366400000")
	require.NoError(t, err)
	assert.Equal(t, &ConfirmResult{Success: true, Status: "COMPLETED"}, res)

	require.Equal(t, 1, h.granter.callCount())
	call := h.granter.calls[0]
	assert.Equal(t, "u1", call.userID)
	assert.Equal(t, plans.CanonicalMonthly, call.planID)
	// Falls back to the transaction id recorded at initiation.
	assert.Equal(t, "sp-100", call.txID)
	assert.Equal(t, "ord-1", call.orderID)

	stored := h.payments.get("WEB_u1_1772366400000")
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, "sp-100", *stored.TransactionID)
	assert.Equal(t, int64(4350), stored.Amount)
}

func TestConfirmTransactionIDAloneCountsAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusUnknown, TransactionID: "sp-777"}

	res, err := h.svc.Confirm(context.Background(), "WEB_u1_1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "sp-777", h.granter.calls[0].txID)
}

func TestConfirmFinishedWithoutTransactionIDIsPending(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusFinished, RawStatus: "FINISHED"}

	res, err := h.svc.Confirm(context.Background(), "WEB_u1_1")
	require.NoError(t, err)
	assert.Equal(t, &ConfirmResult{Success: false, Status: "FINISHED"}, res)
	assert.Zero(t, h.granter.callCount())
	assert.Equal(t, models.PaymentStatusInitiated, h.payments.get("WEB_u1_1").Status)
}

func TestConfirmAlreadyCompletedSkipsProvider(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
	p := h.payments.rows["WEB_u1_1"]
	p.Status = models.PaymentStatusCompleted
	h.payments.rows["WEB_u1_1"] = p

	res, err := h.svc.Confirm(context.Background(), "WEB_u1_1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, h.gateway.queryCalls)
	assert.Zero(t, h.granter.callCount())
}

func TestConfirmErrors(t *testing.T) {
	tests := []struct {
		name     string
		orderRef string
		setup    func(h *harness)
		code     Code
	}{
		{name: "empty", orderRef: "", code: CodeInvalidArgument},
		{name: "bad prefix", orderRef: "APP_u1_1", code: CodeInvalidArgument},
		{name: "too few segments", orderRef: "WEB_u1", code: CodeInvalidArgument},
		{name: "not found", orderRef: "WEB_u1_1", code: CodeNotFound},
		{
			name:     "other product",
			orderRef: "WEB_u1_1",
			setup:    func(h *harness) { h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, "legacy") },
			code:     CodeFailedPrecondition,
		},
		{
			name:     "owner mismatch",
			orderRef: "WEB_u1_1",
			setup:    func(h *harness) { h.seedPayment("WEB_u1_1", "u2", plans.CanonicalMonthly, Source) },
			code:     CodeFailedPrecondition,
		},
		{
			name:     "invalid stored plan",
			orderRef: "WEB_u1_1",
			setup:    func(h *harness) { h.seedPayment("WEB_u1_1", "u1", "retired_plan", Source) },
			code:     CodeFailedPrecondition,
		},
		{
			name:     "query failure",
			orderRef: "WEB_u1_1",
			setup: func(h *harness) {
				h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
				h.gateway.queryErr = &simplepay.HTTPError{Endpoint: "query", Status: 500}
			},
			code: CodeInternal,
		},
		{
			name:     "grant failure",
			orderRef: "WEB_u1_1",
			setup: func(h *harness) {
				h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
				h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusSuccess}
				h.granter.failErr = errors.New("db down")
			},
			code: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.svc.Confirm(context.Background(), tt.orderRef)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

func TestConfirmGrantFailureLeavesPaymentInitiated(t *testing.T) {
	h := newHarness(t)
	h.seedPayment("WEB_u1_1", "u1", plans.CanonicalMonthly, Source)
	h.gateway.queryRes = &simplepay.QueryResult{Status: simplepay.StatusSuccess}
	h.granter.failErr = errors.New("db down")

	_, err := h.svc.Confirm(context.Background(), "WEB_u1_1")
	require.Error(t, err)
	assert.Equal(t, models.PaymentStatusInitiated, h.payments.get("WEB_u1_1").Status)
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := NewService(Deps{})
	assert.Error(t, err)
}
