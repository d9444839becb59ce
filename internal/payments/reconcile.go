package payments

import (
	"context"
	"log"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
)

// reconcile grants the entitlement for a paid order and marks it COMPLETED.
// A payment already COMPLETED is left alone. Confirm and the webhook can race
// here; both may grant, which yields the same or a later expiry, and the
// conditional status update lets exactly one of them complete the payment.
// It reports whether this call applied the grant.
func (s *Service) reconcile(ctx context.Context, p *models.Payment, userID string, plan plans.Plan, txID, orderID string) (bool, error) {
	if p.IsCompleted() {
		log.Printf("[payments] order %s already completed; nothing to apply", p.OrderRef)
		return false, nil
	}

	expiry, err := s.entitlements.Grant(ctx, userID, plan, txID, orderID)
	if err != nil {
		return false, err
	}

	won, err := s.payments.CompletePayment(ctx, p.OrderRef, txID, orderID)
	if err != nil {
		return false, err
	}
	if !won {
		log.Printf("[payments] order %s was completed concurrently", p.OrderRef)
	}

	log.Printf("[payments] order %s reconciled for user %s until %s", p.OrderRef, userID, expiry.Format("2006-01-02T15:04:05Z07:00"))
	return true, nil
}
