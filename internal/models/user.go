package models

import "time"

// User is the subset of the account profile the payment flow reads and the
// entitlement columns it writes.
type User struct {
	ID                    string     `json:"id"`
	Email                 *string    `json:"email,omitempty"`
	IsAdmin               bool       `json:"is_admin"`
	DataTransferConsentAt *time.Time `json:"data_transfer_consent_at,omitempty"`

	IsSubscriptionActive bool                  `json:"is_subscription_active"`
	SubscriptionStatus   *string               `json:"subscription_status,omitempty"`
	SubscriptionEndDate  *time.Time            `json:"subscription_end_date,omitempty"`
	Subscription         *SubscriptionSnapshot `json:"subscription,omitempty"`
	LastPaymentDate      *time.Time            `json:"last_payment_date,omitempty"`
	FreeTrialEndDate     *time.Time            `json:"free_trial_end_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasConsent reports whether the user accepted the data transfer terms.
func (u *User) HasConsent() bool {
	return u.DataTransferConsentAt != nil && !u.DataTransferConsentAt.IsZero()
}

// EmailAddress returns the email or an empty string.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}
