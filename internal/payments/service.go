// Package payments orchestrates the web payment lifecycle: starting a hosted
// payment, confirming it on the client's request, accepting the provider's
// webhook, and reconciling the result into the user's entitlement.
package payments

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/config"
	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

// Source tags payments created by this service in the shared payments table.
const Source = "lexgo"

// Gateway is the payment provider.
type Gateway interface {
	Start(ctx context.Context, in simplepay.StartRequest) (*simplepay.StartResult, error)
	Query(ctx context.Context, orderRef string) (*simplepay.QueryResult, error)
}

// PaymentStore persists payment attempts.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, orderRef string) (*models.Payment, error)
	CompletePayment(ctx context.Context, orderRef, transactionID, orderID string) (bool, error)
}

// UserStore reads user profiles.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Granter applies entitlements.
type Granter interface {
	Grant(ctx context.Context, userID string, plan plans.Plan, providerTxID, providerOrderID string) (time.Time, error)
}

// Recorder receives per-operation outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	InitiateResult(result string)
	ConfirmResult(result string)
	WebhookResponse(code int)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Catalog      *plans.Catalog
	Gateway      Gateway
	Payments     PaymentStore
	Users        UserStore
	Entitlements Granter
	Config       config.Config
	Now          func() time.Time
	Metrics      Recorder
}

// Service implements initiate, confirm and webhook.
type Service struct {
	catalog      *plans.Catalog
	gateway      Gateway
	payments     PaymentStore
	users        UserStore
	entitlements Granter
	cfg          config.Config
	now          func() time.Time
	metrics      Recorder
}

// NewService validates deps and returns a Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Catalog == nil:
		return nil, errors.New("payments: catalog is required")
	case d.Gateway == nil:
		return nil, errors.New("payments: gateway is required")
	case d.Payments == nil:
		return nil, errors.New("payments: payment store is required")
	case d.Users == nil:
		return nil, errors.New("payments: user store is required")
	case d.Entitlements == nil:
		return nil, errors.New("payments: entitlement granter is required")
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		catalog:      d.Catalog,
		gateway:      d.Gateway,
		payments:     d.Payments,
		users:        d.Users,
		entitlements: d.Entitlements,
		cfg:          d.Config,
		now:          now,
		metrics:      d.Metrics,
	}, nil
}

// InitiateInput is the request to start a payment.
type InitiateInput struct {
	PlanID string `json:"planId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// InitiateResult carries the hosted payment page for the browser.
type InitiateResult struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl"`
	OrderRef   string `json:"orderRef"`
	Amount     int64  `json:"amount"`
}

// Initiate starts a payment at the provider and records it as INITIATED.
//
// The record is written after the provider call because the provider's
// transaction id is only known then. If that write fails the order exists at
// the provider but cannot be confirmed here; the full order is logged so it
// can be reconciled by hand.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	res, err := s.initiate(ctx, in)
	s.record(func(r Recorder) { r.InitiateResult(resultLabel(err)) })
	if err != nil {
		logFailure("initiate", err)
		return nil, err
	}
	return res, nil
}

func (s *Service) initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	planID := strings.TrimSpace(in.PlanID)
	userID := strings.TrimSpace(in.UserID)
	if planID == "" || userID == "" {
		return nil, newError(CodeInvalidArgument, "planId and userId are required", nil)
	}
	if !s.cfg.SimplePay.Configured() {
		return nil, newError(CodeFailedPrecondition, "payment provider is not configured", nil)
	}

	plan, err := s.catalog.Resolve(planID)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "invalid plan", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, newError(CodeNotFound, "user not found", err)
		}
		return nil, internalError(err)
	}
	if !user.HasConsent() {
		return nil, newError(CodeFailedPrecondition, "data transfer consent is required", nil)
	}
	email := strings.TrimSpace(user.EmailAddress())
	if email == "" {
		return nil, newError(CodeFailedPrecondition, "user has no email address", nil)
	}

	amount := plan.Price
	if s.isAdmin(user) {
		amount = s.cfg.AdminDiscountAmount
		log.Printf("[payments] admin price applied for user %s: %d", userID, amount)
	}

	orderRef := BuildOrderRef(userID, s.now())
	log.Printf("[payments] starting order %s plan=%s amount=%d", orderRef, plan.ID, amount)

	started, err := s.gateway.Start(ctx, simplepay.StartRequest{
		OrderRef:      orderRef,
		CustomerEmail: email,
		ReturnBase:    s.cfg.ReturnBase,
		Item: simplepay.Item{
			Ref:         plan.ID,
			Title:       plan.Name,
			Description: plan.Description,
			Amount:      1,
			Price:       amount,
		},
	})
	if err != nil {
		if errors.Is(err, simplepay.ErrMissingPaymentURL) {
			return nil, newError(CodeFailedPrecondition, "payment provider returned no payment URL", err)
		}
		return nil, internalError(err)
	}

	payment := &models.Payment{
		OrderRef: orderRef,
		UserID:   userID,
		PlanID:   plan.ID,
		Source:   Source,
		Amount:   amount,
		Status:   models.PaymentStatusInitiated,
	}
	if started.TransactionID != "" {
		tx := started.TransactionID
		payment.ProviderTxID = &tx
	}
	if err := s.payments.CreatePayment(ctx, payment); err != nil {
		log.Printf("[payments] ERROR order %s accepted by provider but not recorded (user=%s plan=%s amount=%d providerTx=%s): %v",
			orderRef, userID, plan.ID, amount, started.TransactionID, err)
		return nil, internalError(err)
	}

	return &InitiateResult{
		Success:    true,
		PaymentURL: started.PaymentURL,
		OrderRef:   orderRef,
		Amount:     amount,
	}, nil
}

// ConfirmResult reports whether the payment is complete. A false Success is
// not a failure: the provider may still settle the payment later.
type ConfirmResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// Confirm asks the provider about an order and reconciles it when paid.
func (s *Service) Confirm(ctx context.Context, orderRef string) (*ConfirmResult, error) {
	res, err := s.confirm(ctx, orderRef)
	label := resultLabel(err)
	if err == nil && !res.Success {
		label = "pending"
	}
	s.record(func(r Recorder) { r.ConfirmResult(label) })
	if err != nil {
		logFailure("confirm", err)
		return nil, err
	}
	return res, nil
}

func (s *Service) confirm(ctx context.Context, orderRef string) (*ConfirmResult, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, newError(CodeInvalidArgument, "orderRef is required", nil)
	}
	ref, err := ParseOrderRef(orderRef)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "invalid orderRef format", err)
	}
	if !s.cfg.SimplePay.Configured() {
		return nil, newError(CodeFailedPrecondition, "payment provider is not configured", nil)
	}

	payment, err := s.payments.GetPayment(ctx, orderRef)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil, newError(CodeNotFound, "payment not found", err)
		}
		return nil, internalError(err)
	}
	if payment.Source != Source {
		return nil, newError(CodeFailedPrecondition, "payment does not belong to this product", nil)
	}
	if payment.UserID != ref.UserID {
		return nil, newError(CodeFailedPrecondition, "payment owner does not match order reference", nil)
	}

	plan, err := s.catalog.Resolve(payment.PlanID)
	if err != nil {
		return nil, newError(CodeFailedPrecondition, "invalid plan", err)
	}

	if payment.IsCompleted() {
		return &ConfirmResult{Success: true, Status: string(models.PaymentStatusCompleted)}, nil
	}

	q, err := s.gateway.Query(ctx, orderRef)
	if err != nil {
		return nil, internalError(err)
	}
	if !q.Succeeded() {
		log.Printf("[payments] order %s not confirmed yet: status=%s", orderRef, q.ReportedStatus())
		return &ConfirmResult{Success: false, Status: q.ReportedStatus()}, nil
	}

	txID := q.TransactionID
	if txID == "" && payment.ProviderTxID != nil {
		txID = *payment.ProviderTxID
	}

	if _, err := s.reconcile(ctx, payment, ref.UserID, plan, txID, q.OrderID); err != nil {
		return nil, internalError(err)
	}
	return &ConfirmResult{Success: true, Status: string(models.PaymentStatusCompleted)}, nil
}

func (s *Service) isAdmin(u *models.User) bool {
	if u.IsAdmin {
		return true
	}
	return s.cfg.AdminEmail != "" && u.EmailAddress() == s.cfg.AdminEmail
}

func (s *Service) record(fn func(Recorder)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(CodeOf(err))
}

func logFailure(op string, err error) {
	log.Printf("[payments] %s failed: %v", op, err)
}
