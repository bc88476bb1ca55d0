package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/service"
	"voucher-service/internal/store"
	"voucher-service/internal/util"
	"voucher-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	purchases  *service.PurchaseService
	completion *service.CompletionService
	recovery   *service.RecoveryService
	vouchers   *service.VoucherService
	webhooks   *webhook.Processor
	gateways   *gateway.Factory
	store      *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	purchases *service.PurchaseService,
	completion *service.CompletionService,
	recovery *service.RecoveryService,
	vouchers *service.VoucherService,
	webhooks *webhook.Processor,
	gateways *gateway.Factory,
	st *store.Store,
) *Handler {
	return &Handler{
		purchases:  purchases,
		completion: completion,
		recovery:   recovery,
		vouchers:   vouchers,
		webhooks:   webhooks,
		gateways:   gateways,
		store:      st,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/payment/webhook/:gateway", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/purchase-sessions", h.createSession)
		v1.GET("/purchase-sessions/:id", h.getSession)
		v1.POST("/purchase-sessions/:id/verify", h.verifySession)

		v1.POST("/voucher-recovery/retrieve", h.recoverVouchers)
		v1.GET("/voucher-recovery/check-session/:id", h.checkSession)

		v1.GET("/vouchers/:code", h.getVoucher)
		v1.POST("/vouchers/:code/register-passport", h.registerPassport)
		v1.POST("/vouchers/:code/redeem", h.redeemVoucher)
		v1.POST("/vouchers/:code/refund", h.refundVoucher)
	}

	internal := router.Group("/internal")
	{
		internal.POST("/cleanup-expired", h.cleanupExpired)
		internal.GET("/gateways", h.listGateways)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createSession handles purchase session creation
func (h *Handler) createSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.purchases.CreateSession(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err, "Failed to create purchase session")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getSession handles get purchase session by ID
func (h *Handler) getSession(c *gin.Context) {
	session, vouchers, err := h.purchases.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to load purchase session")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session, vouchers))
}

// verifySession pulls the provider-side status of a session and reconciles.
func (h *Handler) verifySession(c *gin.Context) {
	session, vouchers, err := h.purchases.VerifySession(c.Request.Context(), c.Param("id"), h.completion)
	if err != nil {
		h.writeError(c, err, "Failed to verify purchase session")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(session, vouchers))
}

// paymentWebhook receives provider payment notifications. The raw body is
// read before any parsing because signature verification covers the exact
// bytes on the wire.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "")
		return
	}

	result := h.webhooks.Process(
		c.Request.Context(),
		c.Param("gateway"),
		payload,
		c.GetHeader("Stripe-Signature"),
		c.ClientIP(),
	)
	c.Data(result.Status, result.ContentType, []byte(result.Body))
}

type recoverRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Email     string `json:"email" binding:"required"`
}

// recoverVouchers re-delivers vouchers for a paid session.
func (h *Handler) recoverVouchers(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	outcome, err := h.recovery.Recover(c.Request.Context(), req.SessionID, req.Email, c.ClientIP())
	if err != nil {
		h.writeError(c, err, "Failed to recover vouchers")
		return
	}

	if len(outcome.Vouchers) == 0 {
		// Owner verified but nothing to deliver yet. Hand back the status
		// so the client can show "still pending" or "payment failed".
		c.JSON(http.StatusOK, gin.H{
			"session_id":     outcome.Session.ID,
			"payment_status": outcome.Session.PaymentStatus,
			"message":        "Purchase has not completed",
		})
		return
	}

	resp := sessionResponse(outcome.Session, outcome.Vouchers)
	resp["recovered"] = outcome.Recovered
	c.JSON(http.StatusOK, resp)
}

// checkSession reports only whether a session exists and its status.
func (h *Handler) checkSession(c *gin.Context) {
	status, err := h.recovery.CheckSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "Failed to check session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_status": status})
}

// getVoucher handles voucher lookup by code
func (h *Handler) getVoucher(c *gin.Context) {
	voucher, err := h.vouchers.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err, "Failed to load voucher")
		return
	}
	c.JSON(http.StatusOK, voucher)
}

// registerPassport binds a passport to an unregistered voucher
func (h *Handler) registerPassport(c *gin.Context) {
	var payload models.PassportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	voucher, err := h.vouchers.RegisterPassport(c.Request.Context(), c.Param("code"), &payload)
	if err != nil {
		h.writeError(c, err, "Failed to register passport")
		return
	}
	c.JSON(http.StatusOK, voucher)
}

// redeemVoucher consumes a voucher at the point of exit
func (h *Handler) redeemVoucher(c *gin.Context) {
	voucher, err := h.vouchers.Redeem(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err, "Failed to redeem voucher")
		return
	}
	c.JSON(http.StatusOK, voucher)
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// refundVoucher reverses payment for an unused voucher
func (h *Handler) refundVoucher(c *gin.Context) {
	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	voucher, err := h.vouchers.Refund(c.Request.Context(), c.Param("code"), req.Reason)
	if err != nil {
		h.writeError(c, err, "Failed to refund voucher")
		return
	}
	c.JSON(http.StatusOK, voucher)
}

// cleanupExpired is triggered by cron to sweep stale sessions and vouchers
func (h *Handler) cleanupExpired(c *gin.Context) {
	sessions, vouchers, err := h.purchases.CleanupExpired(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrCleanupContended) {
			c.JSON(http.StatusConflict, gin.H{"error": "Cleanup already running"})
			return
		}
		h.writeError(c, err, "Cleanup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions_deleted": sessions,
		"vouchers_expired": vouchers,
	})
}

// listGateways reports which payment adapters are configured
func (h *Handler) listGateways(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"available": h.gateways.Available()})
}

func sessionResponse(session *models.PurchaseSession, vouchers []models.Voucher) gin.H {
	resp := gin.H{"session": session}
	if vouchers != nil {
		resp["vouchers"] = vouchers
	}
	return resp
}

// writeError maps domain errors to HTTP statuses without leaking internals.
func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrVoucherNotFound),
		errors.Is(err, service.ErrRecoveryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrSessionExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Purchase session expired"})
	case errors.Is(err, service.ErrRecoveryDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrVoucherNotUsable),
		errors.Is(err, store.ErrVoucherRegistered),
		errors.Is(err, service.ErrRefundUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRecoveryRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrUnknownGateway),
		errors.Is(err, gateway.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
