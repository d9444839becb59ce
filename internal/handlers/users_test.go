package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/claims"
	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

type mockUserReader struct {
	lastID string
	user   *models.User
	err    error
}

func (m *mockUserReader) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.lastID = id
	return m.user, m.err
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/me/entitlement", nil)
	return req.WithContext(claims.WithCaller(req.Context(), &claims.TokenClaims{UserID: userID}))
}

func TestCurrentEntitlementHandler(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	status := "premium"
	reader := &mockUserReader{
		user: &models.User{ID: "rec1", IsSubscriptionActive: true, SubscriptionStatus: &status, SubscriptionEndDate: &end},
	}

	rr := httptest.NewRecorder()
	CurrentEntitlement(reader).ServeHTTP(rr, requestAs("rec1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if reader.lastID != "rec1" {
		t.Fatalf("expected lookup of rec1 got %q", reader.lastID)
	}

	var body entitlementView
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.IsSubscriptionActive || body.SubscriptionStatus != "premium" || !body.SubscriptionEndDate.Equal(end) {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCurrentEntitlementErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	CurrentEntitlement(&mockUserReader{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	CurrentEntitlement(&mockUserReader{err: store.ErrUserNotFound}).ServeHTTP(rr, requestAs("ghost"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	CurrentEntitlement(&mockUserReader{err: errors.New("conn reset")}).ServeHTTP(rr, requestAs("rec1"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}
