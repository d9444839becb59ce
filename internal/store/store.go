package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

const (
	usersTable       = "users"
	userClaimsTable  = "user_claims"
	defaultSweepSize = 200
)

var (
	// ErrUserNotFound is returned when no user row matches the id.
	ErrUserNotFound = errors.New("user not found")
)

// Store provides database-backed accessors for application data.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// GetUser loads the profile fields the payment flow depends on.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`
SELECT
  id,
  email,
  is_admin,
  data_transfer_consent_at,
  is_subscription_active,
  subscription_status,
  subscription_end_date,
  subscription,
  last_payment_date,
  free_trial_end_date,
  created_at,
  updated_at
FROM %s
WHERE id = $1
`, usersTable)

	var (
		user         models.User
		email        sql.NullString
		consentAt    sql.NullTime
		status       sql.NullString
		endDate      sql.NullTime
		snapshotJSON []byte
		lastPayment  sql.NullTime
		trialEnd     sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&email,
		&user.IsAdmin,
		&consentAt,
		&user.IsSubscriptionActive,
		&status,
		&endDate,
		&snapshotJSON,
		&lastPayment,
		&trialEnd,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}

	user.Email = nullStringPtr(email)
	user.DataTransferConsentAt = nullTimePtr(consentAt)
	user.SubscriptionStatus = nullStringPtr(status)
	user.SubscriptionEndDate = nullTimePtr(endDate)
	user.LastPaymentDate = nullTimePtr(lastPayment)
	user.FreeTrialEndDate = nullTimePtr(trialEnd)

	if len(snapshotJSON) > 0 {
		var snap models.SubscriptionSnapshot
		if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
			return nil, fmt.Errorf("store: decode subscription for user %s: %w", id, err)
		}
		user.Subscription = &snap
	}

	return &user, nil
}

// ApplyEntitlement writes only the entitlement columns of a user, leaving the
// rest of the profile untouched. Any pending renewal reminder is cleared.
// Nil optional dates keep their stored value.
func (s *Store) ApplyEntitlement(ctx context.Context, userID string, e models.Entitlement) error {
	query := fmt.Sprintf(`
UPDATE %s
SET is_subscription_active = $2,
    subscription_status = $3,
    subscription_end_date = $4,
    subscription = COALESCE($5::jsonb, subscription),
    last_payment_date = COALESCE($6, last_payment_date),
    free_trial_end_date = COALESCE($7, free_trial_end_date),
    last_reminder = NULL,
    updated_at = NOW()
WHERE id = $1
`, usersTable)

	var snapshot interface{}
	if e.Snapshot != nil {
		raw, err := json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("store: encode subscription snapshot: %w", err)
		}
		snapshot = string(raw)
	}

	res, err := s.db.ExecContext(ctx, query,
		userID,
		e.Active,
		e.StatusLabel,
		nullableTime(e.EndDate),
		snapshot,
		nullableTime(e.LastPaymentDate),
		nullableTime(e.FreeTrialEndDate),
	)
	if err != nil {
		return fmt.Errorf("store: apply entitlement for user %s: %w", userID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: apply entitlement rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ClearEntitlement marks a user's subscription inactive if it is still active
// and ended before expiredBefore. A row renewed since it was listed is left
// alone and cleared is false. The end date and the snapshot are kept for
// history; the snapshot status is flipped to EXPIRED.
func (s *Store) ClearEntitlement(ctx context.Context, userID, statusLabel string, expiredBefore time.Time) (bool, error) {
	query := fmt.Sprintf(`
UPDATE %s
SET is_subscription_active = FALSE,
    subscription_status = $2,
    subscription = CASE
      WHEN subscription IS NULL THEN NULL
      ELSE jsonb_set(subscription, '{status}', '"EXPIRED"')
    END,
    updated_at = NOW()
WHERE id = $1
  AND is_subscription_active = TRUE
  AND subscription_end_date < $3
`, usersTable)

	res, err := s.db.ExecContext(ctx, query, userID, statusLabel, expiredBefore)
	if err != nil {
		return false, fmt.Errorf("store: clear entitlement for user %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: clear entitlement rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListExpiredEntitlements returns ids of users still flagged active whose end
// date is before now, oldest first.
func (s *Store) ListExpiredEntitlements(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 || limit > defaultSweepSize {
		limit = defaultSweepSize
	}

	query := fmt.Sprintf(`
SELECT id
FROM %s
WHERE is_subscription_active = TRUE
  AND subscription_end_date IS NOT NULL
  AND subscription_end_date < $1
ORDER BY subscription_end_date ASC
LIMIT $2
`, usersTable)

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list expired entitlements: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan expired entitlement: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate expired entitlements: %w", err)
	}
	return ids, nil
}

// SetClaims stores the authorization claims mirrored onto a user's credential.
func (s *Store) SetClaims(ctx context.Context, userID string, c models.Claims) error {
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, premium, premium_until, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE
SET premium = EXCLUDED.premium,
    premium_until = EXCLUDED.premium_until,
    updated_at = NOW()
`, userClaimsTable)

	if _, err := s.db.ExecContext(ctx, query, userID, c.Premium, nullableTime(c.PremiumUntil)); err != nil {
		return fmt.Errorf("store: set claims for user %s: %w", userID, err)
	}
	return nil
}

// GetClaims returns the stored claims for a user, or the zero value when none
// have been set.
func (s *Store) GetClaims(ctx context.Context, userID string) (models.Claims, error) {
	query := fmt.Sprintf(`
SELECT premium, premium_until, updated_at
FROM %s
WHERE user_id = $1
`, userClaimsTable)

	var (
		c     models.Claims
		until sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&c.Premium, &until, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Claims{}, nil
		}
		return models.Claims{}, fmt.Errorf("store: get claims for user %s: %w", userID, err)
	}
	c.PremiumUntil = nullTimePtr(until)
	return c, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	value := ns.String
	return &value
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	value := nt.Time
	return &value
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
