package models

import (
	"encoding/json"
	"time"
)

// PurchaseSession tracks one checkout attempt from creation through payment.
// The ID doubles as the merchant transaction id shared with the gateway.
type PurchaseSession struct {
	ID             string          `db:"id" json:"id"`
	CustomerEmail  *string         `db:"customer_email" json:"customer_email,omitempty"`
	CustomerPhone  *string         `db:"customer_phone" json:"customer_phone,omitempty"`
	Quantity       int             `db:"quantity" json:"quantity"`
	Amount         int64           `db:"amount" json:"amount"` // toea
	Currency       string          `db:"currency" json:"currency"`
	DeliveryMethod string          `db:"delivery_method" json:"delivery_method"`
	PaymentStatus  string          `db:"payment_status" json:"payment_status"`
	PassportData   json.RawMessage `db:"passport_data" json:"passport_data,omitempty"`
	GatewayRef     *string         `db:"payment_gateway_ref" json:"payment_gateway_ref,omitempty"`
	SessionData    json.RawMessage `db:"session_data" json:"session_data,omitempty"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expires_at"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Payment session statuses. Transitions are monotonic: pending may move to
// completed, failed or expired; completed is terminal.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
)

// PassportPayload is the passport snapshot captured at purchase time for the
// single-voucher buy-online flow.
type PassportPayload struct {
	PassportNumber string `json:"passport_number"`
	Surname        string `json:"surname"`
	GivenName      string `json:"given_name"`
	Nationality    string `json:"nationality,omitempty"`
	DateOfBirth    string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	ExpiryDate     string `json:"expiry_date,omitempty"`   // YYYY-MM-DD
}

// Voucher is a redeemable single-use exit-pass code with a validity window.
type Voucher struct {
	ID                int64      `db:"id" json:"id"`
	Code              string     `db:"voucher_code" json:"voucher_code"`
	Channel           string     `db:"channel" json:"channel"`
	CustomerName      string     `db:"customer_name" json:"customer_name"`
	CustomerEmail     *string    `db:"customer_email" json:"customer_email,omitempty"`
	CustomerPhone     *string    `db:"customer_phone" json:"customer_phone,omitempty"`
	PassportNumber    *string    `db:"passport_number" json:"passport_number,omitempty"`
	Amount            int64      `db:"amount" json:"amount"` // toea
	Currency          string     `db:"currency" json:"currency"`
	PaymentMode       string     `db:"payment_mode" json:"payment_mode"`
	Status            string     `db:"status" json:"status"`
	ValidFrom         time.Time  `db:"valid_from" json:"valid_from"`
	ValidUntil        time.Time  `db:"valid_until" json:"valid_until"`
	PurchaseSessionID *string    `db:"purchase_session_id" json:"purchase_session_id,omitempty"`
	GatewayRef        *string    `db:"payment_gateway_ref" json:"payment_gateway_ref,omitempty"`
	UsedAt            *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// Voucher statuses
const (
	VoucherStatusPendingPassport = "pending_passport"
	VoucherStatusActive          = "active"
	VoucherStatusUsed            = "used"
	VoucherStatusExpired         = "expired"
	VoucherStatusRefunded        = "refunded"
	VoucherStatusCancelled       = "cancelled"
)

// Voucher channels (purchase type tags used as code prefixes)
const (
	ChannelIndividual = "individual"
	ChannelCorporate  = "corporate"
	ChannelOnline     = "online"
)

// CodePrefix returns the voucher-code tag for a channel.
func CodePrefix(channel string) string {
	switch channel {
	case ChannelIndividual:
		return "IND"
	case ChannelCorporate:
		return "CORP"
	default:
		return "ONL"
	}
}

// Passport is a denormalized snapshot keyed by passport number, not a travel
// document authority.
type Passport struct {
	ID             int64      `db:"id" json:"id"`
	PassportNumber string     `db:"passport_number" json:"passport_number"`
	FullName       string     `db:"full_name" json:"full_name"`
	Nationality    *string    `db:"nationality" json:"nationality,omitempty"`
	DateOfBirth    *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	ExpiryDate     *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
