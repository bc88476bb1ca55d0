package gateway

import (
	"context"
	"errors"
	"fmt"

	"voucher-service/config"
)

// ErrNotImplemented marks operations on the Kina Bank placeholder. The
// adapter holds the slot in the factory until the bank's IPG is integrated.
var ErrNotImplemented = errors.New("kina bank gateway not yet integrated")

type KinaGateway struct {
	cfg config.KinaConfig
}

func NewKinaGateway(cfg config.KinaConfig) *KinaGateway {
	return &KinaGateway{cfg: cfg}
}

func (g *KinaGateway) Name() string { return "kina" }

func (g *KinaGateway) Available() bool {
	return g.cfg.MerchantID != "" && g.cfg.APIKey != ""
}

func (g *KinaGateway) CreateSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return nil, ErrNotImplemented
}

func (g *KinaGateway) VerifySession(ctx context.Context, providerSessionID string) (*SessionStatus, error) {
	return nil, ErrNotImplemented
}

func (g *KinaGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, ErrNotImplemented)
}

func (g *KinaGateway) ProcessEvent(event *WebhookEvent) (*PaymentResult, error) {
	return nil, ErrNotImplemented
}

func (g *KinaGateway) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*Refund, error) {
	return nil, ErrNotImplemented
}
