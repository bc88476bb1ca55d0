package gateway

import (
	"encoding/json"
	"testing"

	"voucher-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStripeGateway() *StripeGateway {
	return NewStripeGateway(config.StripeConfig{
		SecretKey:     "sk_test_abc123",
		WebhookSecret: "whsec_test",
		PGKToUSDRate:  0.27,
	})
}

func TestStripeAvailable(t *testing.T) {
	assert.True(t, testStripeGateway().Available())

	g := NewStripeGateway(config.StripeConfig{SecretKey: "sk_test_abc", WebhookSecret: ""})
	assert.False(t, g.Available())

	// Live keys are refused: this adapter never touches real money.
	g = NewStripeGateway(config.StripeConfig{SecretKey: "sk_live_abc", WebhookSecret: "whsec_x"})
	assert.False(t, g.Available())
}

func TestUsdCentsRoundsUp(t *testing.T) {
	g := testStripeGateway()

	// 5000 toea * 0.27 = 1350 cents exactly.
	assert.Equal(t, int64(1350), g.usdCents(5000))

	// 3333 toea * 0.27 = 899.91, must round up to 900.
	assert.Equal(t, int64(900), g.usdCents(3333))

	// Never undercharge on a fractional cent.
	assert.Equal(t, int64(1), g.usdCents(1))
}

func TestStripeVerifyWebhookRejectsBadSignature(t *testing.T) {
	g := testStripeGateway()

	_, err := g.VerifyWebhook([]byte(`{"type":"checkout.session.completed"}`), "t=1,v1=bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeProcessEventCompleted(t *testing.T) {
	g := testStripeGateway()

	object, _ := json.Marshal(map[string]interface{}{
		"id":                  "cs_test_1",
		"client_reference_id": "PGKB-1",
		"amount_total":        4050,
		"currency":            "usd",
		"payment_intent":      map[string]interface{}{"id": "pi_1"},
	})

	result, err := g.ProcessEvent(&WebhookEvent{
		Type:   "checkout.session.completed",
		Object: object,
	})
	require.NoError(t, err)

	assert.Equal(t, "PGKB-1", result.SessionID)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "pi_1", result.TransactionID)
	assert.Equal(t, "USD", result.Currency)
}

func TestStripeProcessEventExpired(t *testing.T) {
	g := testStripeGateway()

	object, _ := json.Marshal(map[string]interface{}{
		"id":                  "cs_test_2",
		"client_reference_id": "PGKB-2",
	})

	result, err := g.ProcessEvent(&WebhookEvent{
		Type:   "checkout.session.expired",
		Object: object,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Status)
	assert.Equal(t, "PGKB-2", result.SessionID)
}

func TestStripeProcessEventPaymentFailed(t *testing.T) {
	g := testStripeGateway()

	object, _ := json.Marshal(map[string]interface{}{
		"id":       "pi_2",
		"metadata": map[string]string{"purchase_session_id": "PGKB-3"},
		"last_payment_error": map[string]interface{}{
			"message": "card_declined",
		},
	})

	result, err := g.ProcessEvent(&WebhookEvent{
		Type:   "payment_intent.payment_failed",
		Object: object,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "PGKB-3", result.SessionID)
	assert.Equal(t, "pi_2", result.TransactionID)
}

func TestStripeProcessEventIgnoresUnsubscribed(t *testing.T) {
	g := testStripeGateway()

	result, err := g.ProcessEvent(&WebhookEvent{Type: "invoice.created", Object: []byte(`{}`)})
	require.NoError(t, err)
	assert.Empty(t, result.Status)
}
