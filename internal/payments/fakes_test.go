package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/config"
	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	startReqs  []simplepay.StartRequest
	startRes   *simplepay.StartResult
	startErr   error
	queryCalls int
	queryRes   *simplepay.QueryResult
	queryErr   error
}

func (g *fakeGateway) Start(ctx context.Context, in simplepay.StartRequest) (*simplepay.StartResult, error) {
	g.startReqs = append(g.startReqs, in)
	if g.startErr != nil {
		return nil, g.startErr
	}
	return g.startRes, nil
}

func (g *fakeGateway) Query(ctx context.Context, orderRef string) (*simplepay.QueryResult, error) {
	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.queryRes, nil
}

type fakePayments struct {
	mu        sync.Mutex
	rows      map[string]models.Payment
	createErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{rows: map[string]models.Payment{}}
}

func (f *fakePayments) CreatePayment(ctx context.Context, p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.rows[p.OrderRef]; ok {
		return store.ErrDuplicateOrderRef
	}
	f.rows[p.OrderRef] = *p
	return nil
}

func (f *fakePayments) GetPayment(ctx context.Context, orderRef string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[orderRef]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return &p, nil
}

func (f *fakePayments) CompletePayment(ctx context.Context, orderRef, transactionID, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[orderRef]
	if !ok || p.Status != models.PaymentStatusInitiated {
		return false, nil
	}
	p.Status = models.PaymentStatusCompleted
	if transactionID != "" {
		p.TransactionID = &transactionID
	}
	if orderID != "" {
		p.OrderID = &orderID
	}
	f.rows[orderRef] = p
	return true, nil
}

func (f *fakePayments) get(orderRef string) models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[orderRef]
}

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

type grantCall struct {
	userID  string
	planID  string
	txID    string
	orderID string
}

type fakeGranter struct {
	mu      sync.Mutex
	calls   []grantCall
	expiry  map[string]time.Time
	now     func() time.Time
	failErr error
}

func newFakeGranter() *fakeGranter {
	return &fakeGranter{expiry: map[string]time.Time{}, now: func() time.Time { return testNow }}
}

func (g *fakeGranter) Grant(ctx context.Context, userID string, plan plans.Plan, txID, orderID string) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return time.Time{}, g.failErr
	}
	g.calls = append(g.calls, grantCall{userID: userID, planID: plan.ID, txID: txID, orderID: orderID})
	exp := g.now().AddDate(0, 0, plan.SubscriptionDays)
	g.expiry[userID] = exp
	return exp, nil
}

func (g *fakeGranter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordedMetrics struct {
	mu       sync.Mutex
	initiate []string
	confirm  []string
	webhook  []int
}

func (r *recordedMetrics) InitiateResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiate = append(r.initiate, result)
}

func (r *recordedMetrics) ConfirmResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirm = append(r.confirm, result)
}

func (r *recordedMetrics) WebhookResponse(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhook = append(r.webhook, code)
}

type harness struct {
	svc      *Service
	gateway  *fakeGateway
	payments *fakePayments
	users    *fakeUsers
	granter  *fakeGranter
	metrics  *recordedMetrics
	cfg      config.Config
}

const testSecret = "webhook-secret"

func strPtr(s string) *string { return &s }

func newHarness(t *testing.T) *harness {
	t.Helper()

	consent := testNow.Add(-24 * time.Hour)
	h := &harness{
		gateway: &fakeGateway{
			startRes: &simplepay.StartResult{PaymentURL: "https://sandbox.simplepay.hu/pay/1", TransactionID: "sp-100"},
		},
		payments: newFakePayments(),
		users: &fakeUsers{users: map[string]*models.User{
			"u1":      {ID: "u1", Email: strPtr("user@example.com"), DataTransferConsentAt: &consent},
			"admin":   {ID: "admin", Email: strPtr("someone@example.com"), IsAdmin: true, DataTransferConsentAt: &consent},
			"boss":    {ID: "boss", Email: strPtr("boss@example.com"), DataTransferConsentAt: &consent},
			"bigboss": {ID: "bigboss", Email: strPtr("Boss@Example.com"), DataTransferConsentAt: &consent},
			"noc":     {ID: "noc", Email: strPtr("noc@example.com")},
			"nomail":  {ID: "nomail", DataTransferConsentAt: &consent},
		}},
		granter: newFakeGranter(),
		metrics: &recordedMetrics{},
		cfg: config.Config{
			SimplePay: config.SimplePay{
				MerchantID: "M1",
				SecretKey:  testSecret,
				BaseURL:    "https://sandbox.simplepay.hu/payment/v2/",
			},
			ReturnBase:          "https://lexgo.example.com",
			AdminEmail:          "boss@example.com",
			AdminDiscountAmount: 5,
		},
	}

	svc, err := NewService(Deps{
		Catalog:      plans.Default(),
		Gateway:      h.gateway,
		Payments:     h.payments,
		Users:        h.users,
		Entitlements: h.granter,
		Config:       h.cfg,
		Now:          func() time.Time { return testNow },
		Metrics:      h.metrics,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// seedPayment inserts an INITIATED payment for userID.
func (h *harness) seedPayment(orderRef, userID, planID, source string) {
	h.payments.rows[orderRef] = models.Payment{
		OrderRef:     orderRef,
		UserID:       userID,
		PlanID:       planID,
		Source:       source,
		Amount:       4350,
		Status:       models.PaymentStatusInitiated,
		ProviderTxID: strPtr("sp-100"),
	}
}
