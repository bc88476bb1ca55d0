package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voucher-service/config"
	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/redisclient"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrCleanupContended = errors.New("cleanup already running")
)

// statusCacheTTL bounds how long a cached payment status can serve the
// check-session probe before falling back to the database.
const statusCacheTTL = 30 * time.Minute

// PurchaseService handles purchase session business logic
type PurchaseService struct {
	store    *store.Store
	redis    *redisclient.Client
	gateways *gateway.Factory
	business *config.BusinessConfig
	logger   *zap.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(
	st *store.Store,
	redis *redisclient.Client,
	gateways *gateway.Factory,
	business *config.BusinessConfig,
) *PurchaseService {
	return &PurchaseService{
		store:    st,
		redis:    redis,
		gateways: gateways,
		business: business,
		logger:   util.GetLogger(),
	}
}

// CreateSessionRequest represents a request to start a checkout. Any amount
// a client sends is ignored; the price comes from server-side configuration.
type CreateSessionRequest struct {
	Quantity       int                     `json:"quantity" binding:"required,min=1"`
	CustomerEmail  string                  `json:"customer_email,omitempty"`
	CustomerPhone  string                  `json:"customer_phone,omitempty"`
	DeliveryMethod string                  `json:"delivery_method,omitempty"`
	Gateway        string                  `json:"gateway,omitempty"`
	Passport       *models.PassportPayload `json:"passport,omitempty"`
}

// CreateSessionResponse is handed back to the client so it can redirect the
// customer to the provider-hosted payment page.
type CreateSessionResponse struct {
	SessionID  string            `json:"session_id"`
	Gateway    string            `json:"gateway"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	PaymentURL string            `json:"payment_url,omitempty"`
	FormFields map[string]string `json:"form_fields,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewSessionID builds a merchant transaction id shared with the gateway.
func NewSessionID() string {
	frag := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("PGKB-%d-%s", time.Now().UnixMilli(), frag)
}

// CreateSession validates the request, prices it server-side, opens a
// provider checkout and persists the pending session.
func (s *PurchaseService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.CreateSession")
	defer span.End()

	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	gw, err := s.gateways.Gateway(req.Gateway)
	if err != nil {
		return nil, err
	}

	amount := s.business.UnitPriceToea * int64(req.Quantity)
	sessionID := NewSessionID()
	expiresAt := time.Now().Add(time.Duration(s.business.SessionTTLMinutes) * time.Minute)

	checkout, err := gw.CreateSession(ctx, gateway.CreateSessionParams{
		SessionID:     sessionID,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Quantity:      req.Quantity,
		Amount:        amount,
		Currency:      s.business.Currency,
		ReturnURL:     s.business.PublicBaseURL + "/payment/success",
		CancelURL:     s.business.PublicBaseURL + "/payment/cancel",
	})
	if err != nil {
		s.logger.Error("Gateway checkout creation failed",
			zap.String("gateway", gw.Name()), zap.Error(err))
		return nil, err
	}

	session := &models.PurchaseSession{
		ID:             sessionID,
		Quantity:       req.Quantity,
		Amount:         amount,
		Currency:       s.business.Currency,
		DeliveryMethod: deliveryMethodOrDefault(req),
		PaymentStatus:  models.PaymentStatusPending,
		ExpiresAt:      expiresAt,
	}
	if req.CustomerEmail != "" {
		email := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
		session.CustomerEmail = &email
	}
	if req.CustomerPhone != "" {
		phone := strings.TrimSpace(req.CustomerPhone)
		session.CustomerPhone = &phone
	}
	if req.Passport != nil {
		raw, err := json.Marshal(req.Passport)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid passport payload", ErrValidation)
		}
		session.PassportData = raw
	}
	if checkout.ProviderSessionID != "" {
		ref := checkout.ProviderSessionID
		session.GatewayRef = &ref
	}
	sessionData := map[string]interface{}{"gateway": gw.Name()}
	if len(checkout.Metadata) > 0 {
		sessionData["checkout"] = checkout.Metadata
	}
	session.SessionData, _ = json.Marshal(sessionData)

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	util.SessionsCreatedTotal.WithLabelValues(gw.Name()).Inc()
	s.logger.Info("Purchase session created",
		zap.String("session_id", sessionID),
		zap.String("gateway", gw.Name()),
		zap.Int("quantity", req.Quantity),
		zap.Int64("amount", amount))

	_ = s.redis.CacheSessionStatus(ctx, sessionID, models.PaymentStatusPending, statusCacheTTL)

	return &CreateSessionResponse{
		SessionID:  sessionID,
		Gateway:    gw.Name(),
		Amount:     amount,
		Currency:   s.business.Currency,
		PaymentURL: checkout.PaymentURL,
		FormFields: checkout.Metadata,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *PurchaseService) validateRequest(req *CreateSessionRequest) error {
	if req.Quantity < 1 || req.Quantity > s.business.MaxQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrValidation, s.business.MaxQuantity)
	}
	if req.CustomerEmail == "" && req.CustomerPhone == "" {
		return fmt.Errorf("%w: customer email or phone is required", ErrValidation)
	}
	if req.CustomerEmail != "" && !gateway.ValidEmail(req.CustomerEmail) {
		return fmt.Errorf("%w: invalid email format", ErrValidation)
	}
	if req.Passport != nil {
		if req.Quantity != 1 {
			return fmt.Errorf("%w: passport details only apply to single-voucher purchases", ErrValidation)
		}
		if req.Passport.PassportNumber == "" || req.Passport.Surname == "" || req.Passport.GivenName == "" {
			return fmt.Errorf("%w: passport number, surname and given name are required", ErrValidation)
		}
	}
	switch req.DeliveryMethod {
	case "", "email", "sms", "both":
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrValidation, req.DeliveryMethod)
	}
	return nil
}

func deliveryMethodOrDefault(req *CreateSessionRequest) string {
	if req.DeliveryMethod != "" {
		return req.DeliveryMethod
	}
	if req.CustomerEmail != "" {
		return "email"
	}
	return "sms"
}

// GetSession returns a session with its vouchers once completed.
func (s *PurchaseService) GetSession(ctx context.Context, id string) (*models.PurchaseSession, []models.Voucher, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var vouchers []models.Voucher
	if session.PaymentStatus == models.PaymentStatusCompleted {
		vouchers, err = s.store.VouchersBySession(ctx, id)
		if err != nil {
			return nil, nil, err
		}
	}
	return session, vouchers, nil
}

// VerifySession pulls the provider-side status of a pending session and
// reconciles: a completed checkout whose webhook was missed gets issued on
// the spot. The trusted input is the provider response, never the caller.
func (s *PurchaseService) VerifySession(ctx context.Context, id string, completer Completer) (*models.PurchaseSession, []models.Voucher, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.VerifySession")
	defer span.End()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if session.PaymentStatus == models.PaymentStatusCompleted {
		vouchers, err := s.store.VouchersBySession(ctx, id)
		return session, vouchers, err
	}

	gw, err := s.gateways.Gateway(gatewayForSession(session))
	if err != nil {
		return nil, nil, err
	}

	providerRef := id
	if session.GatewayRef != nil && *session.GatewayRef != "" {
		providerRef = *session.GatewayRef
	}

	status, err := gw.VerifySession(ctx, providerRef)
	if err != nil {
		return nil, nil, err
	}

	switch status.Status {
	case gateway.StatusCompleted:
		payment := status.Details
		if payment == nil {
			payment = &gateway.PaymentResult{SessionID: id, Status: gateway.StatusCompleted}
		}
		payment.SessionID = id
		result, err := completer.Complete(ctx, gw.Name(), payment)
		if err != nil {
			return nil, nil, err
		}
		return result.Session, result.Vouchers, nil

	case gateway.StatusFailed, gateway.StatusExpired:
		if _, err := s.store.UpdateSessionStatus(ctx, id, status.Status, ""); err != nil {
			return nil, nil, err
		}
		session.PaymentStatus = status.Status
		_ = s.redis.CacheSessionStatus(ctx, id, status.Status, statusCacheTTL)
	}

	return session, nil, nil
}

// CleanupExpired removes expired pending sessions and flips lapsed
// vouchers. A redis lock keeps concurrent cron triggers from overlapping.
func (s *PurchaseService) CleanupExpired(ctx context.Context) (int64, int64, error) {
	ok, err := s.redis.AcquireLock(ctx, "cleanup-expired", 5*time.Minute)
	if err != nil {
		s.logger.Warn("Cleanup lock unavailable, proceeding without it", zap.Error(err))
	} else if !ok {
		return 0, 0, ErrCleanupContended
	} else {
		defer s.redis.ReleaseLock(ctx, "cleanup-expired")
	}

	sessions, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	util.SessionsExpiredTotal.Add(float64(sessions))

	vouchers, err := s.store.ExpireLapsedVouchers(ctx)
	if err != nil {
		return sessions, 0, fmt.Errorf("failed to expire vouchers: %w", err)
	}

	if sessions > 0 || vouchers > 0 {
		s.logger.Info("Expiry cleanup finished",
			zap.Int64("sessions_deleted", sessions),
			zap.Int64("vouchers_expired", vouchers))
	}
	return sessions, vouchers, nil
}

// gatewayForSession recovers which adapter a session was opened with from
// the checkout metadata stored at creation time, falling back to the
// configured default.
func gatewayForSession(session *models.PurchaseSession) string {
	if len(session.SessionData) == 0 {
		return ""
	}
	var data struct {
		Checkout map[string]string `json:"checkout"`
		Gateway  string            `json:"gateway"`
	}
	if err := json.Unmarshal(session.SessionData, &data); err != nil {
		return ""
	}
	if data.Gateway != "" {
		return data.Gateway
	}
	if data.Checkout != nil {
		return data.Checkout["gateway"]
	}
	return ""
}
