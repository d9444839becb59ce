package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// SimplePay holds the payment provider credentials and endpoints.
	SimplePay SimplePay

	// ReturnBase is the public web origin that browser redirects after payment
	// land on. Taken from the first entry of RETURN_BASES, falling back to NEXTAUTH_URL.
	ReturnBase string

	// JWTSecret signs the short-lived credential carrying premium claims.
	JWTSecret string

	// ClaimTokenTTL is the lifetime of minted credentials. Defaults to one hour.
	ClaimTokenTTL time.Duration

	// AdminEmail is the single privileged identity. It receives the admin
	// discount and is the only caller allowed to toggle claims by hand.
	AdminEmail string

	// AdminDiscountAmount is the fixed price charged to administrators.
	AdminDiscountAmount int64

	// ExpirySweepInterval controls how often the entitlement expiry sweep is
	// enqueued. Zero disables the scheduler.
	ExpirySweepInterval time.Duration
}

// SimplePay is the provider-specific part of the configuration.
type SimplePay struct {
	MerchantID string
	SecretKey  string
	Env        string
	BaseURL    string
	WebhookURL string
}

const (
	defaultServerAddress       = ":18111"
	defaultSimplePayEnv        = "sandbox"
	defaultClaimTokenTTL       = time.Hour
	defaultAdminDiscountAmount = 5
	defaultExpirySweepInterval = time.Hour

	sandboxBaseURL    = "https://sandbox.simplepay.hu/payment/v2/"
	productionBaseURL = "https://secure.simplepay.hu/payment/v2/"
	webhookPath       = "/api/webhooks/simplepay"

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envMerchantID          = "SIMPLEPAY_MERCHANT_ID"
	envSecretKey           = "SIMPLEPAY_SECRET_KEY"
	envSimplePayEnv        = "SIMPLEPAY_ENV"
	envSimplePayBaseURL    = "SIMPLEPAY_BASE_URL"
	envSimplePayWebhookURL = "SIMPLEPAY_WEBHOOK_URL"
	envPublicBaseURL       = "PUBLIC_BASE_URL"
	envNextAuthURL         = "NEXTAUTH_URL"
	envReturnBases         = "RETURN_BASES"
	envJWTSecret           = "JWT_SECRET"
	envClaimTokenTTL       = "CLAIM_TOKEN_TTL"
	envAdminEmail          = "ADMIN_EMAIL"
	envAdminDiscount       = "ADMIN_DISCOUNT_AMOUNT"
	envExpirySweepInterval = "EXPIRY_SWEEP_INTERVAL"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
//
// Missing SimplePay credentials are not a load error: the payment entry points
// report them as a failed precondition per request, the same way the
// provider's own misconfiguration is reported.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:       firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:         strings.TrimSpace(os.Getenv(envDatabaseURL)),
		JWTSecret:           strings.TrimSpace(os.Getenv(envJWTSecret)),
		AdminEmail:          strings.TrimSpace(os.Getenv(envAdminEmail)),
		ClaimTokenTTL:       defaultClaimTokenTTL,
		AdminDiscountAmount: defaultAdminDiscountAmount,
		ExpirySweepInterval: defaultExpirySweepInterval,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	env := strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv(envSimplePayEnv), defaultSimplePayEnv)))
	cfg.SimplePay = SimplePay{
		MerchantID: strings.TrimSpace(os.Getenv(envMerchantID)),
		SecretKey:  strings.TrimSpace(os.Getenv(envSecretKey)),
		Env:        env,
		BaseURL:    firstNonEmpty(strings.TrimSpace(os.Getenv(envSimplePayBaseURL)), baseURLFor(env)),
	}
	if !strings.HasSuffix(cfg.SimplePay.BaseURL, "/") {
		cfg.SimplePay.BaseURL += "/"
	}

	cfg.ReturnBase = strings.TrimRight(returnBase(os.Getenv(envReturnBases), os.Getenv(envNextAuthURL)), "/")

	cfg.SimplePay.WebhookURL = strings.TrimSpace(os.Getenv(envSimplePayWebhookURL))
	if cfg.SimplePay.WebhookURL == "" {
		if base := strings.TrimRight(strings.TrimSpace(os.Getenv(envPublicBaseURL)), "/"); base != "" {
			cfg.SimplePay.WebhookURL = base + webhookPath
		}
	}

	if value := os.Getenv(envClaimTokenTTL); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envClaimTokenTTL, value)
		}
		cfg.ClaimTokenTTL = d
	}

	if value := os.Getenv(envAdminDiscount); value != "" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envAdminDiscount, value)
		}
		cfg.AdminDiscountAmount = n
	}

	if value := os.Getenv(envExpirySweepInterval); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envExpirySweepInterval, value)
		}
		cfg.ExpirySweepInterval = d
	}

	return cfg, nil
}

// Configured reports whether the merchant credentials needed to talk to the
// provider are present.
func (s SimplePay) Configured() bool {
	return s.MerchantID != "" && s.SecretKey != "" && s.BaseURL != ""
}

func baseURLFor(env string) string {
	if env == "production" {
		return productionBaseURL
	}
	return sandboxBaseURL
}

func returnBase(bases, nextAuthURL string) string {
	for _, b := range strings.Split(bases, ",") {
		if b = strings.TrimSpace(b); b != "" {
			return b
		}
	}
	return strings.TrimSpace(nextAuthURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
