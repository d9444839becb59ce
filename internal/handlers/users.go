package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/claims"
	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

// UserReader defines the behaviour required from the storage client backing the profile handler.
type UserReader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type entitlementView struct {
	UserID               string     `json:"userId"`
	Email                string     `json:"email,omitempty"`
	IsSubscriptionActive bool       `json:"isSubscriptionActive"`
	SubscriptionStatus   string     `json:"subscriptionStatus,omitempty"`
	SubscriptionEndDate  *time.Time `json:"subscriptionEndDate,omitempty"`
	LastPaymentDate      *time.Time `json:"lastPaymentDate,omitempty"`
	FreeTrialEndDate     *time.Time `json:"freeTrialEndDate,omitempty"`
}

// CurrentEntitlement returns the stored entitlement of the authenticated caller.
func CurrentEntitlement(users UserReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := claims.CallerFrom(r.Context())
		if !ok {
			writeError(w, payments.CodeUnauthenticated, "authentication required")
			return
		}

		u, err := users.GetUser(r.Context(), caller.UserID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				writeError(w, payments.CodeNotFound, "user not found")
				return
			}
			log.Printf("[users] load %s: %v", caller.UserID, err)
			writeError(w, payments.CodeInternal, "failed to load user")
			return
		}

		writeJSON(w, http.StatusOK, entitlementView{
			UserID:               u.ID,
			Email:                u.EmailAddress(),
			IsSubscriptionActive: u.IsSubscriptionActive,
			SubscriptionStatus:   derefString(u.SubscriptionStatus),
			SubscriptionEndDate:  u.SubscriptionEndDate,
			LastPaymentDate:      u.LastPaymentDate,
			FreeTrialEndDate:     u.FreeTrialEndDate,
		})
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
