package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voucher-service/config"
	"voucher-service/internal/gateway"
	"voucher-service/internal/ratelimit"
	"voucher-service/internal/service"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

// GatewayResolver yields adapters by name. Satisfied by gateway.Factory.
type GatewayResolver interface {
	Gateway(name string) (gateway.Gateway, error)
}

// FailureRecorder marks sessions failed on terminal gateway reports.
// Satisfied by service.CompletionService.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, gatewayName string, payment *gateway.PaymentResult) error
}

// Result is the HTTP response a webhook delivery gets. Providers differ on
// what an acknowledgement looks like (DOKU wants a CONTINUE/STOP token,
// Stripe a JSON body), so the processor decides both status and body.
type Result struct {
	Status      int
	ContentType string
	Body        string
}

// Processor runs the inbound webhook pipeline: rate limit, source IP check,
// signature verification, normalization, dispatch. Order matters: nothing
// from the payload is trusted before verification succeeds.
type Processor struct {
	gateways  GatewayResolver
	completer service.Completer
	failures  FailureRecorder
	limiter   ratelimit.Limiter
	logger    *zap.Logger

	dokuAllowedIPs map[string]bool
	enforceDokuIPs bool
}

// NewProcessor creates a webhook processor. DOKU source IPs are enforced in
// production mode only; sandbox notifications come from arbitrary addresses.
func NewProcessor(
	gateways GatewayResolver,
	completer service.Completer,
	failures FailureRecorder,
	limiter ratelimit.Limiter,
	doku *config.DokuConfig,
) *Processor {
	allowed := make(map[string]bool, len(doku.AllowedIPs))
	for _, ip := range doku.AllowedIPs {
		allowed[ip] = true
	}

	return &Processor{
		gateways:       gateways,
		completer:      completer,
		failures:       failures,
		limiter:        limiter,
		logger:         util.GetLogger(),
		dokuAllowedIPs: allowed,
		enforceDokuIPs: doku.Mode == "production",
	}
}

// Process handles one webhook delivery and returns the response to send.
func (p *Processor) Process(ctx context.Context, gatewayName string, payload []byte, signature, clientIP string) *Result {
	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.WithLabelValues(gatewayName).Observe(time.Since(start).Seconds())
	}()

	allowed, err := p.limiter.Allow(ctx, "webhook:"+gatewayName+":"+clientIP)
	if err != nil {
		p.logger.Warn("Webhook rate limiter unavailable", zap.Error(err))
	}
	if !allowed {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "rate_limited").Inc()
		return p.reject(gatewayName, http.StatusTooManyRequests)
	}

	if p.isDoku(gatewayName) && p.enforceDokuIPs && !p.dokuAllowedIPs[clientIP] {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "ip_rejected").Inc()
		p.logger.Warn("Webhook from unlisted source IP",
			zap.String("gateway", gatewayName), zap.String("client_ip", clientIP))
		return p.reject(gatewayName, http.StatusForbidden)
	}

	if len(payload) == 0 {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "empty").Inc()
		return p.reject(gatewayName, http.StatusBadRequest)
	}

	gw, err := p.gateways.Gateway(gatewayName)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "unknown_gateway").Inc()
		return p.reject(gatewayName, http.StatusNotFound)
	}

	event, err := gw.VerifyWebhook(payload, signature)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "invalid_signature").Inc()
		p.logger.Warn("Webhook verification failed",
			zap.String("gateway", gw.Name()),
			zap.String("client_ip", clientIP),
			zap.Error(err))
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return p.rejectSignature(gatewayName)
		}
		return p.reject(gatewayName, http.StatusBadRequest)
	}

	payment, err := gw.ProcessEvent(event)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "unprocessable").Inc()
		return p.reject(gatewayName, http.StatusBadRequest)
	}
	if payment == nil || payment.Status == "" {
		// Verified but irrelevant event type. Acknowledge so the provider
		// stops redelivering.
		util.WebhooksReceivedTotal.WithLabelValues(gatewayName, "ignored").Inc()
		return p.ack(gatewayName)
	}

	return p.dispatch(ctx, gw.Name(), gatewayName, payment)
}

func (p *Processor) dispatch(ctx context.Context, gwName, routeName string, payment *gateway.PaymentResult) *Result {
	switch payment.Status {
	case gateway.StatusCompleted:
		if _, err := p.completer.Complete(ctx, gwName, payment); err != nil {
			return p.completionError(routeName, payment.SessionID, err)
		}
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "completed").Inc()

	case gateway.StatusFailed, gateway.StatusExpired:
		if err := p.failures.RecordFailure(ctx, gwName, payment); err != nil {
			p.logger.Error("Failed to record payment failure",
				zap.String("session_id", payment.SessionID), zap.Error(err))
			util.WebhooksReceivedTotal.WithLabelValues(routeName, "error").Inc()
			return p.ack(routeName)
		}
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "failed").Inc()

	default:
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "pending").Inc()
	}

	return p.ack(routeName)
}

func (p *Processor) completionError(routeName, sessionID string, err error) *Result {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		// Unknown merchant transaction id. Redelivery will not help, so
		// acknowledge, but keep the trace for reconciliation.
		p.logger.Warn("Webhook for unknown session",
			zap.String("gateway", routeName), zap.String("session_id", sessionID))
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "unknown_session").Inc()
		return p.ack(routeName)

	case errors.Is(err, store.ErrSessionExpired):
		p.logger.Warn("Webhook for expired session",
			zap.String("gateway", routeName), zap.String("session_id", sessionID))
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "expired_session").Inc()
		return p.ack(routeName)

	default:
		// The delivery itself was verified, so the provider still gets its
		// acknowledgement. The verify and recovery paths pick the session up
		// from here.
		p.logger.Error("Webhook completion failed",
			zap.String("gateway", routeName),
			zap.String("session_id", sessionID),
			zap.Error(err))
		util.WebhooksReceivedTotal.WithLabelValues(routeName, "error").Inc()
		return p.ack(routeName)
	}
}

func (p *Processor) isDoku(name string) bool {
	return name == "doku" || name == "bsp"
}

// ack acknowledges a verified delivery in the provider's dialect.
func (p *Processor) ack(gatewayName string) *Result {
	if p.isDoku(gatewayName) {
		return &Result{Status: http.StatusOK, ContentType: "text/plain", Body: "CONTINUE"}
	}
	return &Result{Status: http.StatusOK, ContentType: "application/json", Body: `{"received":true}`}
}

// rejectSignature refuses an unverifiable delivery. DOKU expects a STOP
// token with HTTP 200; JSON providers get a plain 400.
func (p *Processor) rejectSignature(gatewayName string) *Result {
	if p.isDoku(gatewayName) {
		return &Result{Status: http.StatusOK, ContentType: "text/plain", Body: "STOP"}
	}
	return &Result{Status: http.StatusBadRequest, ContentType: "application/json", Body: `{"error":"invalid signature"}`}
}

func (p *Processor) reject(gatewayName string, status int) *Result {
	if p.isDoku(gatewayName) {
		return &Result{Status: status, ContentType: "text/plain", Body: "STOP"}
	}
	return &Result{Status: status, ContentType: "application/json", Body: `{"error":"rejected"}`}
}
