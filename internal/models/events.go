package models

import "time"

// Event types
const (
	EventTypeVoucherIssued = "VOUCHER_ISSUED"
	EventTypeVoucherResend = "VOUCHER_RESEND"
	EventTypePaymentFailed = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// VoucherIssuedEvent is published after a purchase session commits. The
// notification worker turns it into customer email/SMS; delivery failure
// never affects the purchase itself.
type VoucherIssuedEvent struct {
	BaseEvent
	SessionID     string   `json:"session_id"`
	CustomerEmail string   `json:"customer_email,omitempty"`
	CustomerPhone string   `json:"customer_phone,omitempty"`
	VoucherCodes  []string `json:"voucher_codes"`
	Recovered     bool     `json:"recovered"`
}

// PaymentFailedEvent is published when a gateway reports a terminal failure
// for a session, so support tooling can follow up.
type PaymentFailedEvent struct {
	BaseEvent
	SessionID string `json:"session_id"`
	Gateway   string `json:"gateway"`
	Reason    string `json:"reason"`
}
