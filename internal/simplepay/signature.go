package simplepay

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingSignature is returned when the request carries no signature header.
	ErrMissingSignature = errors.New("simplepay: missing signature")
	// ErrMissingSecret is returned when no merchant secret is configured.
	ErrMissingSecret = errors.New("simplepay: secret key not configured")
)

// signatureHeaders lists the header names the provider has been seen to use,
// in lookup order.
var signatureHeaders = []string{"Signature", "X-Simplepay-Signature", "X-Signature"}

// Sign returns the base64 HMAC-SHA384 of body keyed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the MAC of the exact raw body bytes.
// A missing header or secret is reported before any MAC is computed.
func VerifySignature(body []byte, header, secret string) (bool, error) {
	sig := strings.TrimSpace(header)
	if sig == "" {
		return false, ErrMissingSignature
	}
	if secret == "" {
		return false, ErrMissingSecret
	}

	expected := []byte(Sign(secret, body))
	got := []byte(sig)
	if len(got) != len(expected) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(got, expected) == 1, nil
}

// SignatureFromHeader returns the first non-empty signature header value.
func SignatureFromHeader(h http.Header) string {
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
