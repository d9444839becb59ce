package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/PortNumber53/lexgo-payments/backend/internal/payments"
)

const maxRequestBytes = 64 << 10

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorBody is the error shape clients of the callable API already parse.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code payments.Code, message string) {
	writeJSON(w, code.HTTPStatus(), errorBody{Error: errorDetail{Status: code.Status(), Message: message}})
}

// writeServiceError maps a payments error onto the response. Untyped errors
// never leak their detail.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, payments.CodeOf(err), payments.PublicMessage(err))
}

// decodeRequest reads a JSON body into dst and validates it. Bodies may be
// sent bare or wrapped in the callable envelope {"data": {...}}.
func decodeRequest(r *http.Request, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("request body is required")
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.New("invalid JSON payload")
	}
	if len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		raw = envelope.Data
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.New("invalid JSON payload")
	}
	return validationMessage(validate.Struct(dst))
}

// validationMessage turns validator output into a short client message.
func validationMessage(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
