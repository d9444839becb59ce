package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PaymentStatus is the lifecycle state of a web payment. It only ever moves
// from initiated to completed.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

// Payment is one attempt to buy a plan through the hosted payment page.
type Payment struct {
	OrderRef      string        `json:"order_ref"`
	UserID        string        `json:"user_id"`
	PlanID        string        `json:"plan_id"`
	Source        string        `json:"source"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	ProviderTxID  *string       `json:"simplepay_transaction_id,omitempty"`
	TransactionID *string       `json:"transaction_id,omitempty"`
	OrderID       *string       `json:"order_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the payment has been reconciled.
func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

// SubscriptionSnapshot is embedded on the user record each time a payment is
// reconciled.
type SubscriptionSnapshot struct {
	Status         string    `json:"status"`
	ProductID      string    `json:"productId"`
	PurchaseToken  string    `json:"purchaseToken"`
	OrderID        string    `json:"orderId"`
	EndTime        time.Time `json:"endTime"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	Source         string    `json:"source"`
}

// Value implements the driver.Valuer interface for the jsonb column.
func (s SubscriptionSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for the jsonb column.
func (s *SubscriptionSnapshot) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = SubscriptionSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan type %T into SubscriptionSnapshot", value)
	}
}

// Entitlement is the set of user columns written by a grant or revoke.
type Entitlement struct {
	Active          bool
	StatusLabel     string
	EndDate         *time.Time
	Snapshot        *SubscriptionSnapshot
	LastPaymentDate *time.Time
	// FreeTrialEndDate, when set, closes any running free trial.
	FreeTrialEndDate *time.Time
}

// Claims is the fast-path authorization state mirrored onto a user's
// credential.
type Claims struct {
	Premium      bool       `json:"premium"`
	PremiumUntil *time.Time `json:"premiumUntil,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
