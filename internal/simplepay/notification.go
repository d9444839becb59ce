package simplepay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Notification is the body the provider posts to the IPN/webhook URL.
type Notification struct {
	Status        Status
	RawStatus     string
	OrderRef      string
	TransactionID string
	OrderID       string
}

type notificationBody struct {
	Status        string     `json:"status"`
	OrderRef      string     `json:"orderRef"`
	TransactionID flexString `json:"transactionId"`
	OrderID       flexString `json:"orderId"`
}

// ParseNotification decodes a webhook body. Call it only after the raw bytes
// have passed VerifySignature.
func ParseNotification(body []byte) (*Notification, error) {
	var raw notificationBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("simplepay: decode notification: %w", err)
	}
	return &Notification{
		Status:        ParseStatus(raw.Status),
		RawStatus:     strings.TrimSpace(raw.Status),
		OrderRef:      strings.TrimSpace(raw.OrderRef),
		TransactionID: string(raw.TransactionID),
		OrderID:       string(raw.OrderID),
	}, nil
}
