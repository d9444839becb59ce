package payments

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

// WebhookInput is the raw delivery from the provider.
type WebhookInput struct {
	Body      []byte
	Signature string
}

// WebhookResult is the response to send back. Any 200 stops redelivery.
type WebhookResult struct {
	StatusCode int
	Message    string
}

// HandleWebhook verifies and applies a provider notification.
func (s *Service) HandleWebhook(ctx context.Context, in WebhookInput) WebhookResult {
	res := s.handleWebhook(ctx, in)
	s.record(func(r Recorder) { r.WebhookResponse(res.StatusCode) })
	return res
}

func (s *Service) handleWebhook(ctx context.Context, in WebhookInput) WebhookResult {
	ok, err := simplepay.VerifySignature(in.Body, in.Signature, s.cfg.SimplePay.SecretKey)
	switch {
	case errors.Is(err, simplepay.ErrMissingSignature):
		log.Printf("[webhook] missing signature")
		return WebhookResult{http.StatusUnauthorized, "Missing signature"}
	case errors.Is(err, simplepay.ErrMissingSecret):
		log.Printf("[webhook] secret key not configured")
		return WebhookResult{http.StatusInternalServerError, "Configuration error"}
	case err != nil:
		log.Printf("[webhook] signature check failed: %v", err)
		return WebhookResult{http.StatusInternalServerError, "Internal error"}
	case !ok:
		log.Printf("[webhook] invalid signature")
		return WebhookResult{http.StatusUnauthorized, "Invalid signature"}
	}

	n, err := simplepay.ParseNotification(in.Body)
	if err != nil {
		log.Printf("[webhook] %v", err)
		return WebhookResult{http.StatusBadRequest, "Invalid payload"}
	}
	log.Printf("[webhook] received status=%s orderRef=%s", n.RawStatus, n.OrderRef)

	if !n.Status.IsSuccess() {
		return WebhookResult{http.StatusOK, "OK"}
	}

	ref, err := ParseOrderRef(n.OrderRef)
	if err != nil {
		log.Printf("[webhook] %v", err)
		return WebhookResult{http.StatusBadRequest, "Invalid order reference"}
	}

	payment, err := s.payments.GetPayment(ctx, n.OrderRef)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			log.Printf("[webhook] payment %s not found", n.OrderRef)
			return WebhookResult{http.StatusNotFound, "Payment record not found"}
		}
		log.Printf("[webhook] load payment %s: %v", n.OrderRef, err)
		return WebhookResult{http.StatusInternalServerError, "Internal error"}
	}
	if payment.Source != Source {
		log.Printf("[webhook] payment %s has source %q, ignoring", n.OrderRef, payment.Source)
		return WebhookResult{http.StatusOK, "OK - not LexGO"}
	}
	if payment.UserID != ref.UserID {
		log.Printf("[webhook] payment %s owner %s does not match reference", n.OrderRef, payment.UserID)
		return WebhookResult{http.StatusBadRequest, "Invalid order reference"}
	}

	plan, err := s.catalog.Resolve(payment.PlanID)
	if err != nil {
		log.Printf("[webhook] payment %s: %v", n.OrderRef, err)
		return WebhookResult{http.StatusBadRequest, "Invalid plan"}
	}

	if _, err := s.reconcile(ctx, payment, ref.UserID, plan, n.TransactionID, n.OrderID); err != nil {
		log.Printf("[webhook] reconcile %s: %v", n.OrderRef, err)
		return WebhookResult{http.StatusInternalServerError, "Internal error"}
	}
	return WebhookResult{http.StatusOK, "OK"}
}
