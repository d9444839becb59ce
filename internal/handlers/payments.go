package handlers

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
	"github.com/PortNumber53/lexgo-payments/backend/internal/simplepay"
)

const maxWebhookBytes = 64 << 10

// PaymentService is the payment orchestrator as seen by the HTTP layer.
type PaymentService interface {
	Initiate(ctx context.Context, in payments.InitiateInput) (*payments.InitiateResult, error)
	Confirm(ctx context.Context, orderRef string) (*payments.ConfirmResult, error)
	HandleWebhook(ctx context.Context, in payments.WebhookInput) payments.WebhookResult
}

// PaymentHandler exposes initiate, confirm and the provider webhook.
type PaymentHandler struct {
	Service PaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{Service: svc}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/payments/initiate", h.Initiate())
	router.Post("/api/payments/confirm", h.Confirm())
	router.HandleFunc("/api/webhooks/simplepay", h.Webhook())
}

type confirmRequest struct {
	OrderRef string `json:"orderRef" validate:"required"`
}

// Initiate starts a hosted payment for a plan.
func (h *PaymentHandler) Initiate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payments.InitiateInput
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, payments.CodeInvalidArgument, err.Error())
			return
		}

		res, err := h.Service.Initiate(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Confirm checks an order with the provider and applies it when paid.
func (h *PaymentHandler) Confirm() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmRequest
		if err := decodeRequest(r, &req); err != nil {
			writeError(w, payments.CodeInvalidArgument, err.Error())
			return
		}

		res, err := h.Service.Confirm(r.Context(), req.OrderRef)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Webhook receives provider notifications. The signature covers the raw body,
// so it is read once and passed through untouched.
func (h *PaymentHandler) Webhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setWebhookCORS(w.Header())

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			return
		case http.MethodPost:
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			log.Printf("[webhook] failed to read body: %v", err)
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		res := h.Service.HandleWebhook(r.Context(), payments.WebhookInput{
			Body:      body,
			Signature: simplepay.SignatureFromHeader(r.Header),
		})

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(res.StatusCode)
		_, _ = io.WriteString(w, res.Message)
	}
}

func setWebhookCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Signature, x-simplepay-signature, x-signature")
}
