// Package entitlements applies and revokes premium access on a user record and
// mirrors it into the credential claims.
package entitlements

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
)

const (
	// SnapshotSource tags subscriptions bought through the web checkout.
	SnapshotSource = "lexgo_simplepay"

	statusPremium  = "premium"
	statusExpired  = "expired"
	snapshotActive = "ACTIVE"

	// DefaultAdminDays is the claim duration used when an admin sets premium
	// without naming one.
	DefaultAdminDays = 30
)

// Store is the persistence the manager writes through.
type Store interface {
	ApplyEntitlement(ctx context.Context, userID string, e models.Entitlement) error
	ClearEntitlement(ctx context.Context, userID, statusLabel string, expiredBefore time.Time) (bool, error)
	SetClaims(ctx context.Context, userID string, c models.Claims) error
}

// Observer receives grant and claim outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	GrantApplied()
	ClaimFailed()
}

// Manager owns entitlement writes.
type Manager struct {
	store    Store
	observer Observer
	now      func() time.Time
}

// NewManager creates a Manager. observer may be nil.
func NewManager(store Store, observer Observer) (*Manager, error) {
	if store == nil {
		return nil, errors.New("entitlements: store cannot be nil")
	}
	return &Manager{store: store, observer: observer, now: time.Now}, nil
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Grant writes a premium entitlement lasting the plan's duration from now and
// returns its expiry. The stored entitlement is authoritative: a failed claim
// update is logged and does not fail the grant.
func (m *Manager) Grant(ctx context.Context, userID string, plan plans.Plan, providerTxID, providerOrderID string) (time.Time, error) {
	if plan.SubscriptionDays <= 0 {
		return time.Time{}, fmt.Errorf("entitlements: plan %q has no duration", plan.ID)
	}

	now := m.now().UTC()
	expiry := now.AddDate(0, 0, plan.SubscriptionDays)

	err := m.store.ApplyEntitlement(ctx, userID, models.Entitlement{
		Active:      true,
		StatusLabel: statusPremium,
		EndDate:     &expiry,
		Snapshot: &models.SubscriptionSnapshot{
			Status:         snapshotActive,
			ProductID:      plan.ID,
			PurchaseToken:  providerTxID,
			OrderID:        providerOrderID,
			EndTime:        expiry,
			LastUpdateTime: now,
			Source:         SnapshotSource,
		},
		LastPaymentDate:  &now,
		FreeTrialEndDate: &now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("entitlements: grant for user %s: %w", userID, err)
	}
	if m.observer != nil {
		m.observer.GrantApplied()
	}

	if err := m.store.SetClaims(ctx, userID, models.Claims{Premium: true, PremiumUntil: &expiry}); err != nil {
		log.Printf("[entitlements] set claims for user %s failed (entitlement kept): %v", userID, err)
		if m.observer != nil {
			m.observer.ClaimFailed()
		}
	}

	log.Printf("[entitlements] granted %s to user %s until %s", plan.ID, userID, expiry.Format(time.RFC3339))
	return expiry, nil
}

// Revoke clears the premium flags and the claim of an entitlement that ended
// before expiredBefore. When the entitlement was renewed in the meantime
// nothing is touched and revoked is false. A failed claim update is logged
// and swallowed, as for Grant.
func (m *Manager) Revoke(ctx context.Context, userID string, expiredBefore time.Time) (bool, error) {
	cleared, err := m.store.ClearEntitlement(ctx, userID, statusExpired, expiredBefore)
	if err != nil {
		return false, fmt.Errorf("entitlements: revoke for user %s: %w", userID, err)
	}
	if !cleared {
		log.Printf("[entitlements] user %s no longer expired, revoke skipped", userID)
		return false, nil
	}

	if err := m.store.SetClaims(ctx, userID, models.Claims{Premium: false}); err != nil {
		log.Printf("[entitlements] clear claims for user %s failed (entitlement revoked): %v", userID, err)
		if m.observer != nil {
			m.observer.ClaimFailed()
		}
	}

	log.Printf("[entitlements] revoked premium for user %s", userID)
	return true, nil
}

// SetClaimsFor sets only the premium claim for days from now. Used by the
// admin toggle; errors are returned since the claim is the whole operation.
func (m *Manager) SetClaimsFor(ctx context.Context, userID string, days int) (time.Time, error) {
	if days <= 0 {
		days = DefaultAdminDays
	}
	until := m.now().UTC().AddDate(0, 0, days)
	if err := m.store.SetClaims(ctx, userID, models.Claims{Premium: true, PremiumUntil: &until}); err != nil {
		return time.Time{}, fmt.Errorf("entitlements: set claims for user %s: %w", userID, err)
	}
	return until, nil
}

// ClearClaimsFor removes the premium claim without touching the entitlement.
func (m *Manager) ClearClaimsFor(ctx context.Context, userID string) error {
	if err := m.store.SetClaims(ctx, userID, models.Claims{Premium: false}); err != nil {
		return fmt.Errorf("entitlements: clear claims for user %s: %w", userID, err)
	}
	return nil
}
