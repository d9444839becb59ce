package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/plans"
)

type fakeStore struct {
	applied  map[string]models.Entitlement
	cleared  map[string]string
	claims   map[string]models.Claims
	applyErr error
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		applied: map[string]models.Entitlement{},
		cleared: map[string]string{},
		claims:  map[string]models.Claims{},
	}
}

func (f *fakeStore) ApplyEntitlement(ctx context.Context, userID string, e models.Entitlement) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied[userID] = e
	return nil
}

func (f *fakeStore) ClearEntitlement(ctx context.Context, userID, statusLabel string, expiredBefore time.Time) (bool, error) {
	if e, ok := f.applied[userID]; ok && e.EndDate != nil && !e.EndDate.Before(expiredBefore) {
		return false, nil
	}
	f.cleared[userID] = statusLabel
	return true, nil
}

func (f *fakeStore) SetClaims(ctx context.Context, userID string, c models.Claims) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claims[userID] = c
	return nil
}

type countingObserver struct {
	grants, claimFailures int
}

func (o *countingObserver) GrantApplied() { o.grants++ }
func (o *countingObserver) ClaimFailed()  { o.claimFailures++ }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, s *fakeStore, o Observer) *Manager {
	t.Helper()
	m, err := NewManager(s, o)
	require.NoError(t, err)
	m.SetClock(func() time.Time { return fixedNow })
	return m
}

func monthly(t *testing.T) plans.Plan {
	t.Helper()
	p, err := plans.Default().Resolve(plans.CanonicalMonthly)
	require.NoError(t, err)
	return p
}

func TestGrantWritesEntitlementAndClaims(t *testing.T) {
	s := newFakeStore()
	obs := &countingObserver{}
	m := newTestManager(t, s, obs)

	expiry, err := m.Grant(context.Background(), "u1", monthly(t), "tx-1", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, fixedNow.AddDate(0, 0, 30), expiry)

	e := s.applied["u1"]
	assert.True(t, e.Active)
	assert.Equal(t, "premium", e.StatusLabel)
	require.NotNil(t, e.EndDate)
	assert.Equal(t, expiry, *e.EndDate)
	require.NotNil(t, e.Snapshot)
	assert.Equal(t, "ACTIVE", e.Snapshot.Status)
	assert.Equal(t, plans.CanonicalMonthly, e.Snapshot.ProductID)
	assert.Equal(t, "tx-1", e.Snapshot.PurchaseToken)
	assert.Equal(t, "ord-1", e.Snapshot.OrderID)
	assert.Equal(t, SnapshotSource, e.Snapshot.Source)
	require.NotNil(t, e.FreeTrialEndDate)
	assert.Equal(t, fixedNow, *e.FreeTrialEndDate)

	c := s.claims["u1"]
	assert.True(t, c.Premium)
	require.NotNil(t, c.PremiumUntil)
	assert.Equal(t, expiry, *c.PremiumUntil)
	assert.Equal(t, 1, obs.grants)
}

func TestGrantSwallowsClaimFailure(t *testing.T) {
	s := newFakeStore()
	s.claimErr = errors.New("claims backend down")
	obs := &countingObserver{}
	m := newTestManager(t, s, obs)

	_, err := m.Grant(context.Background(), "u1", monthly(t), "tx-1", "")
	require.NoError(t, err)
	assert.Contains(t, s.applied, "u1")
	assert.Equal(t, 1, obs.claimFailures)
}

func TestGrantFailsWhenEntitlementWriteFails(t *testing.T) {
	s := newFakeStore()
	s.applyErr = errors.New("boom")
	m := newTestManager(t, s, nil)

	_, err := m.Grant(context.Background(), "u1", monthly(t), "tx-1", "")
	assert.Error(t, err)
	assert.NotContains(t, s.claims, "u1")
}

func TestGrantTwiceSameExpiry(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(t, s, nil)

	first, err := m.Grant(context.Background(), "u1", monthly(t), "tx-1", "")
	require.NoError(t, err)
	second, err := m.Grant(context.Background(), "u1", monthly(t), "tx-1", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRevokeClearsClaims(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(t, s, nil)

	revoked, err := m.Revoke(context.Background(), "u1", fixedNow)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, "expired", s.cleared["u1"])
	c, ok := s.claims["u1"]
	require.True(t, ok)
	assert.False(t, c.Premium)
	assert.Nil(t, c.PremiumUntil)
}

func TestRevokeSkipsRenewedEntitlement(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(t, s, nil)

	listedAt := fixedNow
	_, err := m.Grant(context.Background(), "u1", monthly(t), "tx-2", "")
	require.NoError(t, err)

	revoked, err := m.Revoke(context.Background(), "u1", listedAt)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.NotContains(t, s.cleared, "u1")
	assert.True(t, s.claims["u1"].Premium)
}

func TestSetClaimsForDefaultsTo30Days(t *testing.T) {
	s := newFakeStore()
	m := newTestManager(t, s, nil)

	until, err := m.SetClaimsFor(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.AddDate(0, 0, DefaultAdminDays), until)
	assert.True(t, s.claims["u1"].Premium)

	require.NoError(t, m.ClearClaimsFor(context.Background(), "u1"))
	assert.False(t, s.claims["u1"].Premium)
}

func TestSetClaimsForSurfacesErrors(t *testing.T) {
	s := newFakeStore()
	s.claimErr = errors.New("down")
	m := newTestManager(t, s, nil)

	_, err := m.SetClaimsFor(context.Background(), "u1", 10)
	assert.Error(t, err)
	assert.Error(t, m.ClearClaimsFor(context.Background(), "u1"))
}
