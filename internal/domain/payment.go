package domain

import (
	"encoding/json"
	"time"
)

// PaymentStatus is the normalized gateway status.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
)

// NormalizePaymentStatus maps a raw gateway status onto the three local states.
func NormalizePaymentStatus(gatewayStatus string) PaymentStatus {
	switch gatewayStatus {
	case "CONFIRMED":
		return PaymentConfirmed
	case "REJECTED", "CANCELED", "DEADLINE_EXPIRED", "AUTH_FAIL", "REVERSED", "REFUNDED", "PARTIAL_REFUNDED":
		return PaymentRejected
	default:
		return PaymentCreated
	}
}

// PaymentRecord tracks one gateway payment. PaymentID is bound to a single
// user and tariff for its lifetime.
type PaymentRecord struct {
	PaymentID     string          `json:"payment_id"`
	UserID        int64           `json:"user_id"`
	Tariff        TariffCode      `json:"tariff"`
	Amount        int64           `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	GatewayStatus string          `json:"gateway_status"`
	OrderID       string          `json:"order_id"`
	Notification  json.RawMessage `json:"notification,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p *PaymentRecord) IsConfirmed() bool {
	return p.Status == PaymentConfirmed
}
