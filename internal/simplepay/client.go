package simplepay

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PortNumber53/lexgo-payments/backend/internal/config"
)

const (
	sdkVersion      = "LexGO_Functions_v1"
	defaultCurrency = "HUF"
	defaultLanguage = "HU"
	// paymentWindow is passed to the provider as the order deadline. It is
	// informational here: expired orders simply never complete.
	paymentWindow = 30 * time.Minute
	maxBodyBytes  = 1 << 20
)

// ErrMissingPaymentURL is returned when a 2xx start response carries no paymentUrl.
var ErrMissingPaymentURL = errors.New("simplepay: start response missing paymentUrl")

// HTTPError is returned for non-2xx provider responses.
type HTTPError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("simplepay %s failed: status=%d body=%s", e.Endpoint, e.Status, e.Body)
}

// Client wraps the SimplePay v2 REST API. Every request body is serialised
// once and the signature is computed over exactly those bytes.
type Client struct {
	MerchantID string
	SecretKey  string
	BaseURL    string
	WebhookURL string

	HTTPClient *http.Client
	Now        func() time.Time
	NewSalt    func() (string, error)
}

// NewClient creates a client from the SimplePay section of the configuration.
func NewClient(cfg config.SimplePay) *Client {
	return &Client{
		MerchantID: strings.TrimSpace(cfg.MerchantID),
		SecretKey:  strings.TrimSpace(cfg.SecretKey),
		BaseURL:    strings.TrimSpace(cfg.BaseURL),
		WebhookURL: strings.TrimSpace(cfg.WebhookURL),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Now:     time.Now,
		NewSalt: NewSalt,
	}
}

// Item is the single line item of a start request.
type Item struct {
	Ref         string `json:"ref"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Amount      int    `json:"amount"`
	Price       int64  `json:"price"`
}

// StartRequest describes an order to open at the provider.
type StartRequest struct {
	OrderRef      string
	CustomerEmail string
	Item          Item
	// ReturnBase is the web origin the browser is sent back to.
	ReturnBase string
}

// StartResult is the provider's answer to a start request.
type StartResult struct {
	PaymentURL    string
	TransactionID string
}

type redirectURLs struct {
	Success string `json:"success"`
	Fail    string `json:"fail"`
	Timeout string `json:"timeout"`
	Cancel  string `json:"cancel"`
}

type startPayload struct {
	Salt          string       `json:"salt"`
	Merchant      string       `json:"merchant"`
	OrderRef      string       `json:"orderRef"`
	CustomerEmail string       `json:"customerEmail"`
	Language      string       `json:"language"`
	SDKVersion    string       `json:"sdkVersion"`
	Currency      string       `json:"currency"`
	Timeout       string       `json:"timeout"`
	Methods       []string     `json:"methods"`
	URL           string       `json:"url,omitempty"`
	URLs          redirectURLs `json:"urls"`
	Items         []Item       `json:"items"`
}

type startResponse struct {
	PaymentURL    string     `json:"paymentUrl"`
	TransactionID flexString `json:"transactionId"`
}

// Start opens a payment at the provider. It is never retried: the provider
// reserves the order reference on every call.
func (c *Client) Start(ctx context.Context, in StartRequest) (*StartResult, error) {
	salt, err := c.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("simplepay: generate salt: %w", err)
	}

	item := in.Item
	if item.Amount == 0 {
		item.Amount = 1
	}

	payload := startPayload{
		Salt:          salt,
		Merchant:      c.MerchantID,
		OrderRef:      in.OrderRef,
		CustomerEmail: in.CustomerEmail,
		Language:      defaultLanguage,
		SDKVersion:    sdkVersion,
		Currency:      defaultCurrency,
		Timeout:       c.Now().Add(paymentWindow).UTC().Format("2006-01-02T15:04:05Z"),
		Methods:       []string{"CARD"},
		URL:           c.WebhookURL,
		URLs:          returnURLs(in.ReturnBase, in.OrderRef),
		Items:         []Item{item},
	}

	body, err := c.post(ctx, "start", payload)
	if err != nil {
		return nil, err
	}

	var out startResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("simplepay: parse start response: %w", err)
	}
	if strings.TrimSpace(out.PaymentURL) == "" {
		return nil, ErrMissingPaymentURL
	}

	return &StartResult{
		PaymentURL:    out.PaymentURL,
		TransactionID: string(out.TransactionID),
	}, nil
}

// QueryResult is the interpreted answer to a query request.
type QueryResult struct {
	Status        Status
	RawStatus     string
	TransactionID string
	OrderID       string
}

// Succeeded applies the provider's loose query rule: SUCCESS or the mere
// presence of a transaction id. FINISHED alone counts only for notifications.
func (r *QueryResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.TransactionID != ""
}

// ReportedStatus is the status to show a caller; UNKNOWN when absent.
func (r *QueryResult) ReportedStatus() string {
	if s := strings.TrimSpace(r.RawStatus); s != "" {
		return s
	}
	return string(StatusUnknown)
}

type queryPayload struct {
	Salt     string `json:"salt"`
	Merchant string `json:"merchant"`
	OrderRef string `json:"orderRef"`
}

type queryTransaction struct {
	Status        string     `json:"status"`
	TransactionID flexString `json:"transactionId"`
	OrderID       flexString `json:"orderId"`
}

type queryResponse struct {
	queryTransaction
	Transactions []queryTransaction `json:"transactions"`
}

// Query asks the provider for the current state of an order. A non-success
// answer is not an error; only transport and non-2xx failures are.
func (c *Client) Query(ctx context.Context, orderRef string) (*QueryResult, error) {
	salt, err := c.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("simplepay: generate salt: %w", err)
	}

	body, err := c.post(ctx, "query", queryPayload{
		Salt:     salt,
		Merchant: c.MerchantID,
		OrderRef: orderRef,
	})
	if err != nil {
		return nil, err
	}

	var raw queryResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		// Unparsable bodies are reported as an unknown, unconfirmed status.
		return &QueryResult{Status: StatusUnknown}, nil
	}

	tx := raw.queryTransaction
	if tx.Status == "" && tx.TransactionID == "" && len(raw.Transactions) > 0 {
		tx = raw.Transactions[0]
	}

	return &QueryResult{
		Status:        ParseStatus(tx.Status),
		RawStatus:     strings.TrimSpace(tx.Status),
		TransactionID: string(tx.TransactionID),
		OrderID:       string(tx.OrderID),
	}, nil
}

// NewSalt returns 16 random bytes, hex encoded.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func returnURLs(base, orderRef string) redirectURLs {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	build := func(kind string) string {
		q := url.Values{}
		q.Set("payment", kind)
		q.Set("orderRef", orderRef)
		return base + "/account?" + q.Encode()
	}
	return redirectURLs{
		Success: build("success"),
		Fail:    build("fail"),
		Timeout: build("timeout"),
		Cancel:  build("cancelled"),
	}
}

// HTTP helpers

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("simplepay: encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Signature", Sign(c.SecretKey, body))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simplepay %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read simplepay %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// marshal encodes without HTML escaping so redirect URLs keep their literal '&'.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// flexString accepts JSON strings and numbers; the provider sends ids as either.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
