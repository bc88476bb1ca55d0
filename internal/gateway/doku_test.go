package gateway

import (
	"context"
	"net/url"
	"testing"

	"voucher-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDokuGateway() *DokuGateway {
	return NewDokuGateway(config.DokuConfig{
		MerchantID: "MALL123",
		SharedKey:  "sharedkey",
		Mode:       "sandbox",
		PaymentURL: "https://staging.doku.com/Suite/Receive",
		StatusURL:  "https://staging.doku.com/Suite/CheckStatus",
		RefundURL:  "https://staging.doku.com/Suite/Refund",
	})
}

func TestFormatToea(t *testing.T) {
	assert.Equal(t, "150.00", formatToea(15000))
	assert.Equal(t, "0.05", formatToea(5))
	assert.Equal(t, "1234.56", formatToea(123456))
}

func TestParseToea(t *testing.T) {
	got, err := parseToea("150.00")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), got)

	got, err = parseToea("150")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), got)

	got, err = parseToea("0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)

	_, err = parseToea("")
	assert.Error(t, err)
	_, err = parseToea("abc")
	assert.Error(t, err)
}

func TestRequestWords(t *testing.T) {
	g := testDokuGateway()

	// PGK is non-default, so its ISO numeric code 598 joins the hash input.
	assert.Equal(t,
		"5aa7c4cddc5b57eb0e3f718bd3eab2e8f707bb42",
		g.requestWords(15000, "PGKB-1", "PGK"))

	// IDR is DOKU's default and is excluded from the hash input.
	assert.Equal(t,
		"9b808f4f7a5941682437519aa6d9470597822645",
		g.requestWords(15000, "PGKB-1", "IDR"))
}

func TestNotifyWords(t *testing.T) {
	g := testDokuGateway()

	assert.Equal(t,
		"c6a5ddafa2f64124809686ecd12481a6230fd4e5",
		g.notifyWords("150.00", "PGKB-1", "SUCCESS", "1", "PGK"))
}

func dokuNotifyForm(g *DokuGateway) url.Values {
	form := url.Values{}
	form.Set("TRANSIDMERCHANT", "PGKB-1")
	form.Set("AMOUNT", "150.00")
	form.Set("RESULTMSG", "SUCCESS")
	form.Set("VERIFYSTATUS", "1")
	form.Set("CURRENCY", "PGK")
	form.Set("RESPONSECODE", "0000")
	form.Set("APPROVALCODE", "APP-42")
	form.Set("WORDS", g.notifyWords("150.00", "PGKB-1", "SUCCESS", "1", "PGK"))
	return form
}

func TestVerifyWebhookAccepts(t *testing.T) {
	g := testDokuGateway()
	payload := []byte(dokuNotifyForm(g).Encode())

	event, err := g.VerifyWebhook(payload, "")
	require.NoError(t, err)
	assert.Equal(t, "notify", event.Type)
	assert.Equal(t, "PGKB-1", event.Form.Get("TRANSIDMERCHANT"))
}

func TestVerifyWebhookUppercaseWords(t *testing.T) {
	g := testDokuGateway()
	form := dokuNotifyForm(g)
	// Some DOKU environments send the digest uppercased.
	form.Set("WORDS", "C6A5DDAFA2F64124809686ECD12481A6230FD4E5")

	_, err := g.VerifyWebhook([]byte(form.Encode()), "")
	assert.NoError(t, err)
}

func TestVerifyWebhookRejectsTamperedAmount(t *testing.T) {
	g := testDokuGateway()
	form := dokuNotifyForm(g)
	form.Set("AMOUNT", "1.00")

	_, err := g.VerifyWebhook([]byte(form.Encode()), "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyWebhookRejectsMissingWords(t *testing.T) {
	g := testDokuGateway()
	form := dokuNotifyForm(g)
	form.Del("WORDS")

	_, err := g.VerifyWebhook([]byte(form.Encode()), "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestMapResult(t *testing.T) {
	g := testDokuGateway()

	assert.Equal(t, StatusCompleted, g.mapResult("0000", "SUCCESS"))
	assert.Equal(t, StatusCompleted, g.mapResult("0000", "success"))
	assert.Equal(t, StatusPending, g.mapResult("5511", ""))
	assert.Equal(t, StatusFailed, g.mapResult("0000", "FAILED"))
	assert.Equal(t, StatusFailed, g.mapResult("5510", "SUCCESS"))
}

func TestProcessEventMapsForm(t *testing.T) {
	g := testDokuGateway()
	event, err := g.VerifyWebhook([]byte(dokuNotifyForm(g).Encode()), "")
	require.NoError(t, err)

	result, err := g.ProcessEvent(event)
	require.NoError(t, err)

	assert.Equal(t, "PGKB-1", result.SessionID)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "APP-42", result.TransactionID)
	assert.Equal(t, int64(15000), result.Amount)
	assert.Equal(t, "PGK", result.Currency)
	assert.Equal(t, "SUCCESS", result.Raw["RESULTMSG"])
}

func TestDokuAvailable(t *testing.T) {
	g := testDokuGateway()
	assert.True(t, g.Available())

	g.cfg.SharedKey = ""
	assert.False(t, g.Available())

	g = testDokuGateway()
	g.cfg.Mode = "production"
	assert.False(t, g.Available(), "production mode must not point at staging")

	g.cfg.PaymentURL = "https://pay.doku.com/Suite/Receive"
	assert.True(t, g.Available())
}

func TestCreateSessionSignsFields(t *testing.T) {
	g := testDokuGateway()

	checkout, err := g.CreateSession(context.Background(), CreateSessionParams{
		SessionID:     "PGKB-1",
		CustomerEmail: "buyer@example.com",
		Quantity:      3,
		Amount:        15000,
		Currency:      "PGK",
		ReturnURL:     "https://greenfees.example/success",
		CancelURL:     "https://greenfees.example/cancel",
	})
	require.NoError(t, err)

	assert.Equal(t, g.cfg.PaymentURL, checkout.PaymentURL)
	assert.Equal(t, "PGKB-1", checkout.ProviderSessionID)
	assert.Equal(t, "150.00", checkout.Metadata["AMOUNT"])
	assert.Equal(t, "598", checkout.Metadata["CURRENCY"])
	assert.Equal(t,
		"5aa7c4cddc5b57eb0e3f718bd3eab2e8f707bb42",
		checkout.Metadata["WORDS"])
}

func TestCreateSessionValidates(t *testing.T) {
	g := testDokuGateway()

	_, err := g.CreateSession(context.Background(), CreateSessionParams{
		SessionID: "PGKB-1",
		Amount:    0,
		ReturnURL: "https://x/s",
		CancelURL: "https://x/c",
	})
	assert.Error(t, err)

	_, err = g.CreateSession(context.Background(), CreateSessionParams{
		SessionID:     "PGKB-1",
		Amount:        15000,
		CustomerEmail: "not-an-email",
		ReturnURL:     "https://x/s",
		CancelURL:     "https://x/c",
	})
	assert.Error(t, err)
}
