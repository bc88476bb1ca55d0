package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_sessions_created_total",
		Help: "Total number of purchase sessions created",
	}, []string{"gateway"})

	SessionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_sessions_completed_total",
		Help: "Total number of purchase sessions completed",
	}, []string{"gateway"})

	SessionsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchase_sessions_expired_total",
		Help: "Total number of purchase sessions removed by expiry cleanup",
	})

	VouchersIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_issued_total",
		Help: "Total number of vouchers issued",
	}, []string{"channel"})

	VouchersRedeemedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_redeemed_total",
		Help: "Total number of vouchers redeemed",
	})

	VouchersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_refunded_total",
		Help: "Total number of vouchers refunded",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_received_total",
		Help: "Total number of payment webhooks received",
	}, []string{"gateway", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_webhook_processing_latency_seconds",
		Help:    "Latency of payment webhook processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed payments reported by gateways",
	}, []string{"gateway"})

	RecoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_recovery_attempts_total",
		Help: "Total number of voucher recovery attempts",
	}, []string{"outcome"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_latency_seconds",
		Help:    "Latency of outbound payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
