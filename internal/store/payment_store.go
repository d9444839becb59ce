package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

const (
	webPaymentsTable = "web_payments"
	uniqueViolation  = "23505"
)

var (
	// ErrPaymentNotFound is returned when no payment matches the order reference.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateOrderRef is returned when an order reference is reused.
	ErrDuplicateOrderRef = errors.New("duplicate order reference")
)

// CreatePayment records a new payment attempt. Status defaults to INITIATED.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p == nil || p.OrderRef == "" {
		return errors.New("store: payment order reference is required")
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusInitiated
	}

	query := fmt.Sprintf(`
INSERT INTO %s (order_ref, user_id, plan_id, source, amount, status, simplepay_transaction_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`, webPaymentsTable)

	var txID interface{}
	if p.ProviderTxID != nil {
		txID = nullableString(*p.ProviderTxID)
	}

	err := s.db.QueryRowContext(ctx, query,
		p.OrderRef,
		p.UserID,
		p.PlanID,
		p.Source,
		p.Amount,
		string(p.Status),
		txID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateOrderRef
		}
		return fmt.Errorf("store: create payment %s: %w", p.OrderRef, err)
	}
	return nil
}

// GetPayment loads a payment by order reference.
func (s *Store) GetPayment(ctx context.Context, orderRef string) (*models.Payment, error) {
	query := fmt.Sprintf(`
SELECT
  order_ref,
  user_id,
  plan_id,
  source,
  amount,
  status,
  simplepay_transaction_id,
  transaction_id,
  order_id,
  created_at,
  updated_at,
  completed_at
FROM %s
WHERE order_ref = $1
`, webPaymentsTable)

	var (
		p           models.Payment
		status      string
		providerTx  sql.NullString
		txID        sql.NullString
		orderID     sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, orderRef).Scan(
		&p.OrderRef,
		&p.UserID,
		&p.PlanID,
		&p.Source,
		&p.Amount,
		&status,
		&providerTx,
		&txID,
		&orderID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("store: get payment %s: %w", orderRef, err)
	}

	p.Status = models.PaymentStatus(status)
	p.ProviderTxID = nullStringPtr(providerTx)
	p.TransactionID = nullStringPtr(txID)
	p.OrderID = nullStringPtr(orderID)
	p.CompletedAt = nullTimePtr(completedAt)
	return &p, nil
}

// CompletePayment moves a payment from INITIATED to COMPLETED and records the
// provider ids. It reports false, without error, when the payment was not in
// INITIATED state, so concurrent completions resolve to a single winner.
func (s *Store) CompletePayment(ctx context.Context, orderRef, transactionID, orderID string) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'COMPLETED',
    transaction_id = COALESCE($2, transaction_id),
    order_id = COALESCE($3, order_id),
    completed_at = NOW(),
    updated_at = NOW()
WHERE order_ref = $1
  AND status = 'INITIATED'
`, webPaymentsTable)

	res, err := s.db.ExecContext(ctx, query, orderRef, nullableString(transactionID), nullableString(orderID))
	if err != nil {
		return false, fmt.Errorf("store: complete payment %s: %w", orderRef, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: complete payment rows affected: %w", err)
	}
	return affected == 1, nil
}
