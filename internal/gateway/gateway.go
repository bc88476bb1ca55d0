package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Canonical payment statuses shared by every adapter. Provider-specific
// response codes are mapped onto this vocabulary by ProcessEvent.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

var (
	// ErrInvalidSignature means the webhook payload failed authenticity
	// verification. Callers must not touch any state after seeing it.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNotConfigured means required credentials are missing.
	ErrNotConfigured = errors.New("gateway not configured")

	// ErrUnknownGateway is returned by the factory for unrecognized names.
	ErrUnknownGateway = errors.New("unknown payment gateway")

	// ErrProviderUnavailable covers timeouts and transport failures talking
	// to the provider. The payment state is unknown, not failed.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// MaxAmountToea is a sanity ceiling on a single checkout (PGK 100,000).
const MaxAmountToea = 10_000_000

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// CreateSessionParams describes one checkout to hand to the provider. Amount
// is in toea and has already been computed server-side; adapters re-validate
// bounds but never recompute it.
type CreateSessionParams struct {
	SessionID     string
	CustomerEmail string
	CustomerPhone string
	Quantity      int
	Amount        int64
	Currency      string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]string
}

// Validate applies the adapter-independent parameter checks.
func (p *CreateSessionParams) Validate() error {
	if p.SessionID == "" {
		return errors.New("session id is required")
	}
	if p.Amount <= 0 || p.Amount > MaxAmountToea {
		return errors.New("amount out of range")
	}
	if p.CustomerEmail != "" && !ValidEmail(p.CustomerEmail) {
		return errors.New("invalid email format")
	}
	if p.ReturnURL == "" || p.CancelURL == "" {
		return errors.New("return and cancel URLs are required")
	}
	return nil
}

// CheckoutSession is the provider-hosted payment page handed back to the
// client. ExpiresAt is our own deadline, independent of the provider's TTL.
type CheckoutSession struct {
	PaymentURL        string
	ProviderSessionID string
	ExpiresAt         time.Time
	Metadata          map[string]string
}

// WebhookEvent is a signature-verified provider notification. Form carries
// the parsed fields for form-encoded providers, Object the JSON body for
// JSON providers; both reference the exact bytes that were verified.
type WebhookEvent struct {
	Type    string
	Payload []byte
	Form    url.Values
	Object  json.RawMessage
}

// PaymentResult is a normalized provider outcome for one merchant session.
type PaymentResult struct {
	SessionID     string
	Status        string
	TransactionID string
	PaymentMethod string
	Amount        int64
	Currency      string
	Raw           map[string]interface{}
}

// SessionStatus is the pull-based view of a checkout, used for
// reconciliation when a webhook was missed.
type SessionStatus struct {
	Status  string
	Details *PaymentResult
}

// Refund reports the outcome of a refund request.
type Refund struct {
	RefundID string
	Status   string
	Amount   int64
}

// Gateway wraps one payment provider behind a uniform contract.
type Gateway interface {
	// Name returns the configuration key for this provider.
	Name() string

	// Available reports whether required credentials are present (and, for
	// test-mode adapters, verifiably test-scoped).
	Available() bool

	// CreateSession builds a provider-hosted payment page for a checkout.
	CreateSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error)

	// VerifySession pulls the current provider-side status of a checkout.
	VerifySession(ctx context.Context, providerSessionID string) (*SessionStatus, error)

	// VerifyWebhook authenticates a raw webhook payload. The signature check
	// uses constant-time comparison; ErrInvalidSignature is returned on
	// mismatch and no part of the payload may be trusted afterwards.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// ProcessEvent maps a verified event to the canonical status vocabulary.
	ProcessEvent(event *WebhookEvent) (*PaymentResult, error)

	// Refund reverses a settled transaction.
	Refund(ctx context.Context, transactionID string, amount int64, reason string) (*Refund, error)
}

// httpClient is shared by adapters that talk to providers directly. The
// timeout bounds every outbound call; a timeout means "unknown", never a
// terminal payment state.
var httpClient = &http.Client{Timeout: 20 * time.Second}

func newFormRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}
