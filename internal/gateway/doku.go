package gateway

import (
	"context"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voucher-service/config"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

// ISO 4217 numeric codes for the currencies BSP DOKU accepts. DOKU's own
// default is IDR; any other currency is appended to the WORDS input.
var dokuCurrencyCodes = map[string]string{
	"IDR": "360",
	"PGK": "598",
	"USD": "840",
	"AUD": "036",
}

const dokuDefaultCurrency = "IDR"

// DokuGateway drives the BSP DOKU hosted payment page. Authenticity on both
// legs is the SHA1 "WORDS" hash over the transaction fields and the shared
// key.
type DokuGateway struct {
	cfg    config.DokuConfig
	logger *zap.Logger
}

func NewDokuGateway(cfg config.DokuConfig) *DokuGateway {
	return &DokuGateway{cfg: cfg, logger: util.GetLogger()}
}

func (g *DokuGateway) Name() string { return "doku" }

func (g *DokuGateway) Available() bool {
	if g.cfg.MerchantID == "" || g.cfg.SharedKey == "" {
		return false
	}
	if g.cfg.Mode == "production" {
		return !strings.Contains(g.cfg.PaymentURL, "staging")
	}
	return true
}

// formatToea renders a toea amount the way DOKU expects it: two decimal
// places, no thousands separators.
func formatToea(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// requestWords is the outbound signature:
// SHA1(amount + mallID + sharedKey + transID [+ currencyCode if non-default]).
func (g *DokuGateway) requestWords(amount int64, transID, currency string) string {
	var b strings.Builder
	b.WriteString(formatToea(amount))
	b.WriteString(g.cfg.MerchantID)
	b.WriteString(g.cfg.SharedKey)
	b.WriteString(transID)
	if code, ok := dokuCurrencyCodes[currency]; ok && currency != dokuDefaultCurrency {
		b.WriteString(code)
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// notifyWords is the signature DOKU sends with payment notifications:
// SHA1(amount + mallID + sharedKey + transID + resultMsg + verifyStatus
// [+ currencyCode if non-default]).
func (g *DokuGateway) notifyWords(amount, transID, resultMsg, verifyStatus, currency string) string {
	var b strings.Builder
	b.WriteString(amount)
	b.WriteString(g.cfg.MerchantID)
	b.WriteString(g.cfg.SharedKey)
	b.WriteString(transID)
	b.WriteString(resultMsg)
	b.WriteString(verifyStatus)
	if code, ok := dokuCurrencyCodes[currency]; ok && currency != dokuDefaultCurrency {
		b.WriteString(code)
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// CreateSession builds the signed form-field set for DOKU's hosted page.
// Every field is derived server-side; the frontend auto-posts the returned
// fields to PaymentURL.
func (g *DokuGateway) CreateSession(ctx context.Context, p CreateSessionParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !g.Available() {
		return nil, fmt.Errorf("doku: %w", ErrNotConfigured)
	}

	amount := formatToea(p.Amount)
	fields := map[string]string{
		"MALLID":          g.cfg.MerchantID,
		"CHAINMERCHANT":   "NA",
		"AMOUNT":          amount,
		"PURCHASEAMOUNT":  amount,
		"TRANSIDMERCHANT": p.SessionID,
		"WORDS":           g.requestWords(p.Amount, p.SessionID, p.Currency),
		"REQUESTDATETIME": time.Now().UTC().Format("20060102150405"),
		"CURRENCY":        dokuCurrencyCodes[p.Currency],
		"PURCHASECURRENCY": dokuCurrencyCodes[p.Currency],
		"SESSIONID":       p.SessionID,
		"NAME":            firstNonEmpty(p.CustomerEmail, p.CustomerPhone),
		"EMAIL":           p.CustomerEmail,
		"BASKET":          fmt.Sprintf("Exit Pass Voucher,%s,%d,%s", amount, p.Quantity, amount),
	}
	for k, v := range p.Metadata {
		fields["MERCHANTDATA-"+strings.ToUpper(k)] = v
	}

	g.logger.Info("DOKU payment session prepared",
		zap.String("session_id", p.SessionID),
		zap.String("amount", amount))

	return &CheckoutSession{
		PaymentURL:        g.cfg.PaymentURL,
		ProviderSessionID: p.SessionID,
		ExpiresAt:         time.Now().Add(15 * time.Minute),
		Metadata:          fields,
	}, nil
}

// dokuStatusResponse is the CheckStatus XML body.
type dokuStatusResponse struct {
	XMLName         xml.Name `xml:"PAYMENT_STATUS"`
	Amount          string   `xml:"AMOUNT"`
	TransIDMerchant string   `xml:"TRANSIDMERCHANT"`
	ResponseCode    string   `xml:"RESPONSECODE"`
	ResultMsg       string   `xml:"RESULTMSG"`
	PaymentChannel  string   `xml:"PAYMENTCHANNEL"`
	ApprovalCode    string   `xml:"APPROVALCODE"`
	PaymentDateTime string   `xml:"PAYMENTDATETIME"`
}

// VerifySession pulls transaction status from DOKU's CheckStatus endpoint.
// Transport failures surface as ErrProviderUnavailable so callers retry
// rather than conclude anything.
func (g *DokuGateway) VerifySession(ctx context.Context, providerSessionID string) (*SessionStatus, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("doku", "check_status").Observe(time.Since(start).Seconds())
	}()

	form := url.Values{}
	form.Set("MALLID", g.cfg.MerchantID)
	form.Set("CHAINMERCHANT", "NA")
	form.Set("TRANSIDMERCHANT", providerSessionID)
	form.Set("SESSIONID", providerSessionID)
	form.Set("WORDS", g.checkStatusWords(providerSessionID))

	req, err := newFormRequest(ctx, g.cfg.StatusURL, form)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doku check status: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("doku check status read: %w: %v", ErrProviderUnavailable, err)
	}

	var status dokuStatusResponse
	if err := xml.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("doku check status parse: %w", err)
	}

	result := g.mapResult(status.ResponseCode, status.ResultMsg)
	out := &SessionStatus{Status: result}
	if result == StatusCompleted {
		amount, _ := parseToea(status.Amount)
		out.Details = &PaymentResult{
			SessionID:     status.TransIDMerchant,
			Status:        result,
			TransactionID: status.ApprovalCode,
			PaymentMethod: status.PaymentChannel,
			Amount:        amount,
			Raw: map[string]interface{}{
				"responseCode":    status.ResponseCode,
				"resultMsg":       status.ResultMsg,
				"approvalCode":    status.ApprovalCode,
				"paymentDateTime": status.PaymentDateTime,
			},
		}
	}
	return out, nil
}

func (g *DokuGateway) checkStatusWords(transID string) string {
	sum := sha1.Sum([]byte(g.cfg.MerchantID + g.cfg.SharedKey + transID))
	return hex.EncodeToString(sum[:])
}

// VerifyWebhook authenticates a DOKU Notify payload. The body is
// form-encoded; the WORDS field is recomputed from the received fields and
// compared in constant time. A mismatch taints the whole payload.
func (g *DokuGateway) VerifyWebhook(payload []byte, _ string) (*WebhookEvent, error) {
	form, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("doku webhook parse: %w", err)
	}

	transID := form.Get("TRANSIDMERCHANT")
	received := form.Get("WORDS")
	if transID == "" || received == "" {
		return nil, fmt.Errorf("doku webhook missing TRANSIDMERCHANT or WORDS: %w", ErrInvalidSignature)
	}

	expected := g.notifyWords(
		form.Get("AMOUNT"),
		transID,
		form.Get("RESULTMSG"),
		form.Get("VERIFYSTATUS"),
		form.Get("CURRENCY"),
	)

	if subtle.ConstantTimeCompare([]byte(strings.ToLower(received)), []byte(expected)) != 1 {
		g.logger.Warn("DOKU WORDS mismatch",
			zap.String("transidmerchant", transID))
		return nil, ErrInvalidSignature
	}

	return &WebhookEvent{
		Type:    "notify",
		Payload: payload,
		Form:    form,
	}, nil
}

// mapResult maps DOKU response codes onto the canonical vocabulary:
// 0000 + SUCCESS is settled, 5511 is authorized-not-settled, anything else
// failed.
func (g *DokuGateway) mapResult(responseCode, resultMsg string) string {
	switch {
	case responseCode == "0000" && strings.EqualFold(resultMsg, "SUCCESS"):
		return StatusCompleted
	case responseCode == "5511":
		return StatusPending
	default:
		return StatusFailed
	}
}

func (g *DokuGateway) ProcessEvent(event *WebhookEvent) (*PaymentResult, error) {
	if event == nil || event.Form == nil {
		return nil, fmt.Errorf("doku: event has no form payload")
	}
	form := event.Form

	amount, _ := parseToea(form.Get("AMOUNT"))
	status := g.mapResult(form.Get("RESPONSECODE"), form.Get("RESULTMSG"))

	raw := make(map[string]interface{}, len(form))
	for k := range form {
		raw[k] = form.Get(k)
	}

	return &PaymentResult{
		SessionID:     form.Get("TRANSIDMERCHANT"),
		Status:        status,
		TransactionID: firstNonEmpty(form.Get("APPROVALCODE"), form.Get("RESPONSECODE")),
		PaymentMethod: firstNonEmpty(form.Get("PAYMENTCHANNEL"), "BSP DOKU Card"),
		Amount:        amount,
		Currency:      form.Get("CURRENCY"),
		Raw:           raw,
	}, nil
}

type dokuRefundResponse struct {
	XMLName      xml.Name `xml:"REFUND_STATUS"`
	RefundID     string   `xml:"REFUNDID"`
	ResponseCode string   `xml:"RESPONSECODE"`
	ResultMsg    string   `xml:"RESULTMSG"`
	Amount       string   `xml:"AMOUNT"`
}

func (g *DokuGateway) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*Refund, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("doku", "refund").Observe(time.Since(start).Seconds())
	}()

	form := url.Values{}
	form.Set("MALLID", g.cfg.MerchantID)
	form.Set("CHAINMERCHANT", "NA")
	form.Set("APPROVALCODE", transactionID)
	form.Set("AMOUNT", formatToea(amount))
	form.Set("REASON", reason)
	form.Set("WORDS", g.requestWords(amount, transactionID, ""))

	req, err := newFormRequest(ctx, g.cfg.RefundURL, form)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doku refund: %w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("doku refund read: %w: %v", ErrProviderUnavailable, err)
	}

	var out dokuRefundResponse
	if err := xml.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("doku refund parse: %w", err)
	}

	refunded, _ := parseToea(out.Amount)
	status := StatusPending
	if out.ResponseCode == "0000" {
		status = StatusCompleted
	}
	return &Refund{RefundID: out.RefundID, Status: status, Amount: refunded}, nil
}

// parseToea converts a "123.45" wire amount to toea.
func parseToea(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	parts := strings.SplitN(s, ".", 2)
	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	var frac int64
	if len(parts) == 2 {
		f := parts[1]
		if len(f) > 2 {
			f = f[:2]
		}
		for len(f) < 2 {
			f += "0"
		}
		frac, err = strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", s, err)
		}
	}
	return whole*100 + frac, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
