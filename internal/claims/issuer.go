// Package claims mints and checks the signed credential that carries a user's
// premium flag, so premium-only routes can authorize without a storage read.
package claims

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PortNumber53/lexgo-payments/backend/internal/models"
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing or validation.
	ErrInvalidToken = errors.New("invalid or expired token")
)

const defaultTTL = time.Hour

// TokenClaims is the payload of a user credential.
type TokenClaims struct {
	UserID  string `json:"uid"`
	Email   string `json:"email,omitempty"`
	Premium bool   `json:"premium"`
	// PremiumUntil is the entitlement expiry in epoch milliseconds; zero when unset.
	PremiumUntil int64 `json:"premiumUntil,omitempty"`
	jwt.RegisteredClaims
}

// HasPremium reports whether the credential grants premium access at now.
func (c *TokenClaims) HasPremium(now time.Time) bool {
	return c != nil && c.Premium && c.PremiumUntil > now.UnixMilli()
}

// Issuer signs and verifies HS256 credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. The secret must not be empty.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("claims: signing secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Mint signs a credential for the user carrying the given claim state.
func (i *Issuer) Mint(userID, email string, c models.Claims) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("claims: user id is required")
	}

	now := i.now()
	tc := &TokenClaims{
		UserID:  userID,
		Email:   email,
		Premium: c.Premium,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if c.PremiumUntil != nil {
		tc.PremiumUntil = c.PremiumUntil.UnixMilli()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tc)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("claims: sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a credential and returns its claims.
func (i *Issuer) Parse(tokenString string) (*TokenClaims, error) {
	tc := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, tc, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return tc, nil
}

// Now returns the issuer's clock reading.
func (i *Issuer) Now() time.Time {
	return i.now()
}
