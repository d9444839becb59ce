package claims

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type callerKey struct{}

// WithCaller stores verified claims on the context.
func WithCaller(ctx context.Context, c *TokenClaims) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the claims placed on the context by Authenticate.
func CallerFrom(ctx context.Context) (*TokenClaims, bool) {
	c, ok := ctx.Value(callerKey{}).(*TokenClaims)
	return c, ok && c != nil
}

// Authenticate requires a valid bearer credential.
func (i *Issuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authorization header missing or invalid")
			return
		}

		tc, err := i.Parse(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), tc)))
	})
}

// RequirePremium admits only callers whose credential carries an unexpired
// premium claim. It must run after Authenticate.
func (i *Issuer) RequirePremium(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}
		if !tc.HasPremium(i.now()) {
			writeError(w, http.StatusForbidden, "PERMISSION_DENIED", "premium subscription required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"status":  status,
			"message": message,
		},
	})
}
