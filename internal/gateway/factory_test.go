package gateway

import (
	"testing"

	"voucher-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaymentConfig() *config.PaymentConfig {
	return &config.PaymentConfig{
		DefaultGateway: "stripe",
		Stripe: config.StripeConfig{
			SecretKey:     "sk_test_abc",
			WebhookSecret: "whsec_test",
			PGKToUSDRate:  0.27,
		},
		Doku: config.DokuConfig{
			MerchantID: "MALL123",
			SharedKey:  "sharedkey",
			Mode:       "sandbox",
			PaymentURL: "https://staging.doku.com/Suite/Receive",
		},
	}
}

func TestFactoryDefaultGateway(t *testing.T) {
	f := NewFactory(testPaymentConfig())

	g, err := f.Gateway("")
	require.NoError(t, err)
	assert.Equal(t, "stripe", g.Name())
}

func TestFactoryCachesInstances(t *testing.T) {
	f := NewFactory(testPaymentConfig())

	first, err := f.Gateway("doku")
	require.NoError(t, err)
	second, err := f.Gateway("doku")
	require.NoError(t, err)
	assert.Same(t, first, second)

	f.ClearCache()
	third, err := f.Gateway("doku")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestFactoryAliases(t *testing.T) {
	f := NewFactory(testPaymentConfig())

	g, err := f.Gateway("bsp")
	require.NoError(t, err)
	assert.Equal(t, "doku", g.Name())

	g, err = f.Gateway("DOKU")
	require.NoError(t, err)
	assert.Equal(t, "doku", g.Name())
}

func TestFactoryUnknownGateway(t *testing.T) {
	f := NewFactory(testPaymentConfig())

	_, err := f.Gateway("paypal")
	assert.ErrorIs(t, err, ErrUnknownGateway)
}

func TestFactoryNotConfigured(t *testing.T) {
	cfg := testPaymentConfig()
	cfg.Stripe.WebhookSecret = ""
	f := NewFactory(cfg)

	_, err := f.Gateway("stripe")
	assert.ErrorIs(t, err, ErrNotConfigured)

	// Kina has no credentials at all in this config.
	_, err = f.Gateway("kina")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFactoryAvailable(t *testing.T) {
	f := NewFactory(testPaymentConfig())
	assert.Equal(t, []string{"doku", "stripe"}, f.Available())

	cfg := testPaymentConfig()
	cfg.Doku.SharedKey = ""
	f = NewFactory(cfg)
	assert.Equal(t, []string{"stripe"}, f.Available())
}
