package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"voucher-service/config"
	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/ratelimit"
	"voucher-service/internal/service"
	"voucher-service/internal/store"

	"github.com/stretchr/testify/assert"
)

type fakeGateway struct {
	name       string
	verifyErr  error
	event      *gateway.WebhookEvent
	processErr error
	result     *gateway.PaymentResult
}

func (g *fakeGateway) Name() string    { return g.name }
func (g *fakeGateway) Available() bool { return true }
func (g *fakeGateway) CreateSession(context.Context, gateway.CreateSessionParams) (*gateway.CheckoutSession, error) {
	return nil, nil
}
func (g *fakeGateway) VerifySession(context.Context, string) (*gateway.SessionStatus, error) {
	return nil, nil
}
func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*gateway.WebhookEvent, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if g.event != nil {
		return g.event, nil
	}
	return &gateway.WebhookEvent{Type: "test", Payload: payload}, nil
}
func (g *fakeGateway) ProcessEvent(*gateway.WebhookEvent) (*gateway.PaymentResult, error) {
	return g.result, g.processErr
}
func (g *fakeGateway) Refund(context.Context, string, int64, string) (*gateway.Refund, error) {
	return nil, nil
}

type fakeResolver struct {
	gw  gateway.Gateway
	err error
}

func (r *fakeResolver) Gateway(string) (gateway.Gateway, error) { return r.gw, r.err }

type fakeCompleter struct {
	calls int
	err   error
}

func (c *fakeCompleter) Complete(context.Context, string, *gateway.PaymentResult) (*service.CompletionResult, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &service.CompletionResult{
		Session:  &models.PurchaseSession{ID: "PGKB-1"},
		Vouchers: []models.Voucher{{Code: "ONL-X-1"}},
	}, nil
}

type fakeFailures struct {
	calls int
	err   error
}

func (f *fakeFailures) RecordFailure(context.Context, string, *gateway.PaymentResult) error {
	f.calls++
	return f.err
}

func newTestProcessor(gw gateway.Gateway, completer *fakeCompleter, failures *fakeFailures, doku config.DokuConfig) *Processor {
	return NewProcessor(
		&fakeResolver{gw: gw},
		completer,
		failures,
		ratelimit.NewMemoryLimiter(time.Minute, 100),
		&doku,
	)
}

func completedResult() *gateway.PaymentResult {
	return &gateway.PaymentResult{
		SessionID: "PGKB-1",
		Status:    gateway.StatusCompleted,
		Raw:       map[string]interface{}{},
	}
}

func TestProcessCompletedPayment(t *testing.T) {
	completer := &fakeCompleter{}
	p := newTestProcessor(&fakeGateway{name: "stripe", result: completedResult()}, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, `{"received":true}`, result.Body)
	assert.Equal(t, 1, completer.calls)
}

func TestProcessFailedPaymentRecordsFailure(t *testing.T) {
	failures := &fakeFailures{}
	gw := &fakeGateway{name: "stripe", result: &gateway.PaymentResult{
		SessionID: "PGKB-1", Status: gateway.StatusFailed,
	}}
	p := newTestProcessor(gw, &fakeCompleter{}, failures, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, 1, failures.calls)
}

func TestProcessEmptyBodyRejected(t *testing.T) {
	completer := &fakeCompleter{}
	p := newTestProcessor(&fakeGateway{name: "stripe"}, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", nil, "sig", "1.2.3.4")

	assert.Equal(t, http.StatusBadRequest, result.Status)
	assert.Zero(t, completer.calls)
}

func TestProcessInvalidSignatureDoku(t *testing.T) {
	completer := &fakeCompleter{}
	gw := &fakeGateway{name: "doku", verifyErr: gateway.ErrInvalidSignature}
	p := newTestProcessor(gw, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "doku", []byte("WORDS=bad"), "", "1.2.3.4")

	// DOKU expects HTTP 200 with a STOP token on rejection.
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "STOP", result.Body)
	assert.Zero(t, completer.calls)
}

func TestProcessInvalidSignatureStripe(t *testing.T) {
	gw := &fakeGateway{name: "stripe", verifyErr: gateway.ErrInvalidSignature}
	p := newTestProcessor(gw, &fakeCompleter{}, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "bad", "1.2.3.4")

	assert.Equal(t, http.StatusBadRequest, result.Status)
}

func TestProcessDokuIPAllowListProduction(t *testing.T) {
	completer := &fakeCompleter{}
	doku := config.DokuConfig{Mode: "production", AllowedIPs: []string{"103.10.130.75"}}
	gw := &fakeGateway{name: "doku", result: completedResult()}
	p := newTestProcessor(gw, completer, &fakeFailures{}, doku)

	result := p.Process(context.Background(), "doku", []byte("x=1"), "", "9.9.9.9")
	assert.Equal(t, http.StatusForbidden, result.Status)
	assert.Zero(t, completer.calls)

	result = p.Process(context.Background(), "doku", []byte("x=1"), "", "103.10.130.75")
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "CONTINUE", result.Body)
}

func TestProcessDokuIPAllowListSandboxSkipped(t *testing.T) {
	doku := config.DokuConfig{Mode: "sandbox", AllowedIPs: []string{"103.10.130.75"}}
	gw := &fakeGateway{name: "doku", result: completedResult()}
	p := newTestProcessor(gw, &fakeCompleter{}, &fakeFailures{}, doku)

	result := p.Process(context.Background(), "doku", []byte("x=1"), "", "9.9.9.9")
	assert.Equal(t, http.StatusOK, result.Status)
}

func TestProcessRateLimit(t *testing.T) {
	completer := &fakeCompleter{}
	p := NewProcessor(
		&fakeResolver{gw: &fakeGateway{name: "stripe", result: completedResult()}},
		completer,
		&fakeFailures{},
		ratelimit.NewMemoryLimiter(time.Minute, 1),
		&config.DokuConfig{},
	)

	first := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")
	assert.Equal(t, http.StatusOK, first.Status)

	second := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, second.Status)
	assert.Equal(t, 1, completer.calls)
}

func TestProcessUnknownGateway(t *testing.T) {
	p := NewProcessor(
		&fakeResolver{err: gateway.ErrUnknownGateway},
		&fakeCompleter{},
		&fakeFailures{},
		ratelimit.NewMemoryLimiter(time.Minute, 100),
		&config.DokuConfig{},
	)

	result := p.Process(context.Background(), "paypal", []byte(`{}`), "", "1.2.3.4")
	assert.Equal(t, http.StatusNotFound, result.Status)
}

func TestProcessIgnoredEventAcked(t *testing.T) {
	completer := &fakeCompleter{}
	gw := &fakeGateway{name: "stripe", result: &gateway.PaymentResult{Status: ""}}
	p := newTestProcessor(gw, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Zero(t, completer.calls)
}

func TestProcessUnknownSessionAcked(t *testing.T) {
	completer := &fakeCompleter{err: store.ErrSessionNotFound}
	p := newTestProcessor(&fakeGateway{name: "stripe", result: completedResult()}, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")

	// Redelivering a webhook for a session we never opened cannot succeed.
	assert.Equal(t, http.StatusOK, result.Status)
}

func TestProcessCompletionErrorStillAcked(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("db down")}
	p := newTestProcessor(&fakeGateway{name: "doku", result: completedResult()}, completer, &fakeFailures{}, config.DokuConfig{})

	result := p.Process(context.Background(), "doku", []byte("x=1"), "", "1.2.3.4")

	// A verified notification is acknowledged even when issuance fails
	// internally; the session is reconciled through verify or recovery.
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, "CONTINUE", result.Body)

	p = newTestProcessor(&fakeGateway{name: "stripe", result: completedResult()}, completer, &fakeFailures{}, config.DokuConfig{})
	result = p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, `{"received":true}`, result.Body)
}

func TestProcessFailureRecordErrorStillAcked(t *testing.T) {
	failures := &fakeFailures{err: errors.New("db down")}
	gw := &fakeGateway{name: "stripe", result: &gateway.PaymentResult{
		SessionID: "PGKB-1", Status: gateway.StatusFailed,
	}}
	p := newTestProcessor(gw, &fakeCompleter{}, failures, config.DokuConfig{})

	result := p.Process(context.Background(), "stripe", []byte(`{}`), "sig", "1.2.3.4")

	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, 1, failures.calls)
}
