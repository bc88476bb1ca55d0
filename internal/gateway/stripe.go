package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"voucher-service/config"
	"voucher-service/internal/util"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
	"go.uber.org/zap"
)

// StripeGateway is the test/POC adapter. Stripe does not settle PGK, so
// amounts are converted to USD at a configured rate; the PGK figures ride
// along in metadata for reconciliation.
type StripeGateway struct {
	cfg    config.StripeConfig
	sc     *client.API
	logger *zap.Logger
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	g := &StripeGateway{cfg: cfg, logger: util.GetLogger()}
	if cfg.SecretKey != "" {
		g.sc = &client.API{}
		g.sc.Init(cfg.SecretKey, nil)
	}
	return g
}

func (g *StripeGateway) Name() string { return "stripe" }

// Available requires both keys and, because this adapter is POC-only,
// refuses live-mode secrets.
func (g *StripeGateway) Available() bool {
	if g.cfg.SecretKey == "" || g.cfg.WebhookSecret == "" {
		return false
	}
	return strings.HasPrefix(g.cfg.SecretKey, "sk_test_")
}

// usdCents converts toea to USD cents at the configured rate, rounding up
// so we never undercharge.
func (g *StripeGateway) usdCents(toea int64) int64 {
	return int64(math.Ceil(float64(toea) * g.cfg.PGKToUSDRate))
}

func (g *StripeGateway) CreateSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !g.Available() {
		return nil, fmt.Errorf("stripe: %w", ErrNotConfigured)
	}

	unitToea := p.Amount / int64(p.Quantity)
	expiresAt := time.Now().Add(30 * time.Minute) // Stripe minimum

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(p.ReturnURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(p.CancelURL),
		ClientReferenceID:  stripe.String(p.SessionID),
		ExpiresAt:          stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(int64(p.Quantity)),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("usd"),
					UnitAmount: stripe.Int64(g.usdCents(unitToea)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String("PNG Green Fees Exit Pass Voucher"),
						Description: stripe.String(fmt.Sprintf("%d voucher(s) - PGK %s", p.Quantity, formatToea(p.Amount))),
					},
				},
			},
		},
	}
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}
	params.AddMetadata("purchase_session_id", p.SessionID)
	params.AddMetadata("customer_phone", p.CustomerPhone)
	params.AddMetadata("amount_toea", fmt.Sprintf("%d", p.Amount))
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	params.Context = ctx
	start := time.Now()
	s, err := g.sc.CheckoutSessions.New(params)
	util.GatewayRequestLatency.WithLabelValues("stripe", "create_session").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w: %v", ErrProviderUnavailable, err)
	}

	g.logger.Info("Stripe checkout session created",
		zap.String("session_id", p.SessionID),
		zap.String("stripe_session_id", s.ID))

	return &CheckoutSession{
		PaymentURL:        s.URL,
		ProviderSessionID: s.ID,
		ExpiresAt:         time.Unix(s.ExpiresAt, 0),
		Metadata: map[string]string{
			"stripe_session_id": s.ID,
		},
	}, nil
}

func (g *StripeGateway) VerifySession(ctx context.Context, providerSessionID string) (*SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	start := time.Now()
	s, err := g.sc.CheckoutSessions.Get(providerSessionID, params)
	util.GatewayRequestLatency.WithLabelValues("stripe", "check_status").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("stripe session retrieve: %w: %v", ErrProviderUnavailable, err)
	}

	status := StatusPending
	switch s.Status {
	case stripe.CheckoutSessionStatusComplete:
		status = StatusCompleted
	case stripe.CheckoutSessionStatusExpired:
		status = StatusExpired
	}

	out := &SessionStatus{Status: status}
	if status == StatusCompleted {
		txID := ""
		if s.PaymentIntent != nil {
			txID = s.PaymentIntent.ID
		}
		out.Details = &PaymentResult{
			SessionID:     s.ClientReferenceID,
			Status:        status,
			TransactionID: txID,
			PaymentMethod: "card",
			Amount:        s.AmountTotal,
			Currency:      strings.ToUpper(string(s.Currency)),
			Raw: map[string]interface{}{
				"stripeSessionId": s.ID,
				"paymentIntentId": txID,
			},
		}
	}
	return out, nil
}

// VerifyWebhook delegates to Stripe's constant-time HMAC check over the raw
// payload bytes.
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &WebhookEvent{
		Type:    string(event.Type),
		Payload: payload,
		Object:  event.Data.Raw,
	}, nil
}

func (g *StripeGateway) ProcessEvent(event *WebhookEvent) (*PaymentResult, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Object, &s); err != nil {
			return nil, fmt.Errorf("stripe event decode: %w", err)
		}
		status := StatusCompleted
		if event.Type == "checkout.session.expired" {
			status = StatusExpired
		}
		txID := ""
		if s.PaymentIntent != nil {
			txID = s.PaymentIntent.ID
		}
		return &PaymentResult{
			SessionID:     s.ClientReferenceID,
			Status:        status,
			TransactionID: txID,
			PaymentMethod: "card",
			Amount:        s.AmountTotal,
			Currency:      strings.ToUpper(string(s.Currency)),
			Raw: map[string]interface{}{
				"stripeSessionId": s.ID,
				"paymentIntentId": txID,
				"eventType":       event.Type,
			},
		}, nil

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Object, &pi); err != nil {
			return nil, fmt.Errorf("stripe event decode: %w", err)
		}
		reason := ""
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return &PaymentResult{
			SessionID:     pi.Metadata["purchase_session_id"],
			Status:        StatusFailed,
			TransactionID: pi.ID,
			Raw: map[string]interface{}{
				"paymentIntentId": pi.ID,
				"errorMessage":    reason,
				"eventType":       event.Type,
			},
		}, nil

	default:
		// Event types we do not subscribe to; acknowledged, never acted on.
		return &PaymentResult{Status: "", Raw: map[string]interface{}{"eventType": event.Type}}, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(g.usdCents(amount)),
	}
	if reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Context = ctx

	start := time.Now()
	r, err := g.sc.Refunds.New(params)
	util.GatewayRequestLatency.WithLabelValues("stripe", "refund").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("stripe refund: %w: %v", ErrProviderUnavailable, err)
	}
	return &Refund{RefundID: r.ID, Status: string(r.Status), Amount: amount}, nil
}
