package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/lexgo-payments/backend/internal/claims"
	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
	"github.com/PortNumber53/lexgo-payments/backend/internal/store"
)

// ClaimStore reads users and their stored claim state.
type ClaimStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetClaims(ctx context.Context, userID string) (models.Claims, error)
}

// ClaimAdmin toggles the premium claim directly.
type ClaimAdmin interface {
	SetClaimsFor(ctx context.Context, userID string, days int) (time.Time, error)
	ClearClaimsFor(ctx context.Context, userID string) error
}

// ClaimsHandler serves credential refresh, the admin claim toggle and the
// premium status probe.
type ClaimsHandler struct {
	Issuer     *claims.Issuer
	Store      ClaimStore
	Admin      ClaimAdmin
	AdminEmail string
}

// NewClaimsHandler creates a new ClaimsHandler
func NewClaimsHandler(issuer *claims.Issuer, st ClaimStore, admin ClaimAdmin, adminEmail string) *ClaimsHandler {
	return &ClaimsHandler{Issuer: issuer, Store: st, Admin: admin, AdminEmail: adminEmail}
}

// RegisterRoutes registers the authenticated claim routes.
func (h *ClaimsHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(h.Issuer.Authenticate)
		r.Post("/api/auth/refresh", h.Refresh())
		r.With(RequireAdmin(h.AdminEmail)).Post("/api/admin/claims", h.AdminClaims())
		r.With(h.Issuer.RequirePremium).Get("/api/premium/status", h.PremiumStatus())
	})
}

// RequireAdmin admits only the caller whose verified email is exactly
// adminEmail. It must run after Authenticate.
func RequireAdmin(adminEmail string) func(http.Handler) http.Handler {
	admin := strings.TrimSpace(adminEmail)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := claims.CallerFrom(r.Context())
			if !ok {
				writeError(w, payments.CodeUnauthenticated, "authentication required")
				return
			}
			if admin == "" || caller.Email != admin {
				log.Printf("[admin] denied %s for user %s", r.URL.Path, caller.UserID)
				writeError(w, payments.CodePermissionDenied, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tokenResponse struct {
	Token        string     `json:"token"`
	Premium      bool       `json:"premium"`
	PremiumUntil *time.Time `json:"premiumUntil,omitempty"`
}

// Refresh re-mints the caller's credential from the stored claim state so
// entitlement changes reach the token.
func (h *ClaimsHandler) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := claims.CallerFrom(r.Context())

		user, err := h.Store.GetUser(r.Context(), caller.UserID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				writeError(w, payments.CodeNotFound, "user not found")
				return
			}
			log.Printf("[auth] refresh: load user %s: %v", caller.UserID, err)
			writeError(w, payments.CodeInternal, "internal error")
			return
		}

		c, err := h.Store.GetClaims(r.Context(), user.ID)
		if err != nil {
			log.Printf("[auth] refresh: load claims %s: %v", user.ID, err)
			writeError(w, payments.CodeInternal, "internal error")
			return
		}

		token, err := h.Issuer.Mint(user.ID, user.EmailAddress(), c)
		if err != nil {
			log.Printf("[auth] refresh: mint token for %s: %v", user.ID, err)
			writeError(w, payments.CodeInternal, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, tokenResponse{Token: token, Premium: c.Premium, PremiumUntil: c.PremiumUntil})
	}
}

type adminClaimsRequest struct {
	TargetUserID string `json:"targetUserId" validate:"required"`
	Action       string `json:"action" validate:"required,oneof=set clear"`
	Days         int    `json:"days" validate:"gte=0"`
}

type adminClaimsResponse struct {
	Success      bool       `json:"success"`
	UserID       string     `json:"userId"`
	Premium      bool       `json:"premium"`
	PremiumUntil *time.Time `json:"premiumUntil,omitempty"`
}

// AdminClaims sets or clears a user's premium claim without touching the
// entitlement itself.
func (h *ClaimsHandler) AdminClaims() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminClaimsRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, payments.CodeInvalidArgument, err.Error())
			return
		}

		if _, err := h.Store.GetUser(r.Context(), req.TargetUserID); err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				writeError(w, payments.CodeNotFound, "user not found")
				return
			}
			log.Printf("[admin] load user %s: %v", req.TargetUserID, err)
			writeError(w, payments.CodeInternal, "internal error")
			return
		}

		resp := adminClaimsResponse{Success: true, UserID: req.TargetUserID}
		switch req.Action {
		case "set":
			until, err := h.Admin.SetClaimsFor(r.Context(), req.TargetUserID, req.Days)
			if err != nil {
				log.Printf("[admin] %v", err)
				writeError(w, payments.CodeInternal, "internal error")
				return
			}
			resp.Premium = true
			resp.PremiumUntil = &until
		case "clear":
			if err := h.Admin.ClearClaimsFor(r.Context(), req.TargetUserID); err != nil {
				log.Printf("[admin] %v", err)
				writeError(w, payments.CodeInternal, "internal error")
				return
			}
		}

		log.Printf("[admin] claims %s for user %s", req.Action, req.TargetUserID)
		writeJSON(w, http.StatusOK, resp)
	}
}

// PremiumStatus answers from the token alone.
func (h *ClaimsHandler) PremiumStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := claims.CallerFrom(r.Context())
		until := time.UnixMilli(caller.PremiumUntil).UTC()
		writeJSON(w, http.StatusOK, map[string]any{
			"premium":      true,
			"premiumUntil": until,
		})
	}
}
