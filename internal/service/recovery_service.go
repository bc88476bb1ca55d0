package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"voucher-service/config"
	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/ratelimit"
	"voucher-service/internal/redisclient"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

var (
	ErrRecoveryNotFound = errors.New("no matching purchase found")

	// ErrRecoveryDenied is an email that does not match the session. The
	// response latency is padded to the same minimum as a missing session
	// so timing does not betray which ids exist.
	ErrRecoveryDenied = errors.New("email does not match this purchase")

	ErrRecoveryRateLimited = errors.New("too many recovery attempts")
)

// recoveryStore is the slice of the store the recovery flow reads.
type recoveryStore interface {
	GetSession(ctx context.Context, id string) (*models.PurchaseSession, error)
	VouchersBySession(ctx context.Context, sessionID string) ([]models.Voucher, error)
}

// Verifier reconciles a pending session against the provider. Satisfied by
// PurchaseService.
type Verifier interface {
	VerifySession(ctx context.Context, id string, completer Completer) (*models.PurchaseSession, []models.Voucher, error)
}

// RecoveryOutcome is the result of an email-verified lookup. Vouchers is
// empty when the purchase never completed; the session's payment status
// tells the caller what to show. Recovered is true only when this call
// (re-)ran issuance rather than resending stored vouchers.
type RecoveryOutcome struct {
	Session   *models.PurchaseSession
	Vouchers  []models.Voucher
	Recovered bool
}

// RecoveryService re-delivers vouchers to customers who paid but lost the
// confirmation. Negative outcomes are padded to a fixed minimum latency so
// response timing does not reveal whether the session id exists.
type RecoveryService struct {
	store     recoveryStore
	redis     *redisclient.Client
	verifier  Verifier
	completer Completer
	notifier  Notifier
	limiter   ratelimit.Limiter
	business  *config.BusinessConfig
	logger    *zap.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewRecoveryService creates a new recovery service
func NewRecoveryService(
	st *store.Store,
	redis *redisclient.Client,
	verifier Verifier,
	completer Completer,
	notifier Notifier,
	limiter ratelimit.Limiter,
	business *config.BusinessConfig,
) *RecoveryService {
	return &RecoveryService{
		store:     st,
		redis:     redis,
		verifier:  verifier,
		completer: completer,
		notifier:  notifier,
		limiter:   limiter,
		business:  business,
		logger:    util.GetLogger(),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Recover looks up a completed purchase by session id and email and
// re-delivers its vouchers. A pending session is first reconciled against
// the provider, so a missed webhook still resolves here.
func (s *RecoveryService) Recover(ctx context.Context, sessionID, email, clientIP string) (*RecoveryOutcome, error) {
	ctx, span := util.StartSpan(ctx, "RecoveryService.Recover")
	defer span.End()

	start := s.now()
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.checkRateLimit(ctx, email, clientIP); err != nil {
		util.RecoveryAttemptsTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			util.RecoveryAttemptsTotal.WithLabelValues("not_found").Inc()
			s.padLatency(start)
			return nil, ErrRecoveryNotFound
		}
		return nil, err
	}

	if session.CustomerEmail == nil || strings.ToLower(*session.CustomerEmail) != email {
		util.RecoveryAttemptsTotal.WithLabelValues("email_mismatch").Inc()
		s.logger.Warn("Recovery attempt with mismatched email",
			zap.String("session_id", sessionID), zap.String("client_ip", clientIP))
		s.padLatency(start)
		return nil, ErrRecoveryDenied
	}

	vouchers, reissued, err := s.resolveVouchers(ctx, session)
	if err != nil {
		return nil, err
	}
	if session.PaymentStatus != models.PaymentStatusCompleted {
		// Verified owner but the purchase never completed: report the real
		// status so the client can show "still pending" instead of an error.
		util.RecoveryAttemptsTotal.WithLabelValues("not_completed").Inc()
		s.padLatency(start)
		return &RecoveryOutcome{Session: session}, nil
	}

	util.RecoveryAttemptsTotal.WithLabelValues("recovered").Inc()
	s.logger.Info("Vouchers recovered",
		zap.String("session_id", sessionID),
		zap.Int("vouchers", len(vouchers)),
		zap.Bool("reissued", reissued))

	if !reissued {
		s.resend(ctx, session, vouchers)
	}

	return &RecoveryOutcome{Session: session, Vouchers: vouchers, Recovered: reissued}, nil
}

// CheckSession is the lightweight existence probe behind the recovery form.
// It only ever reveals a payment status, no customer data.
func (s *RecoveryService) CheckSession(ctx context.Context, sessionID string) (string, error) {
	if status, err := s.redis.GetSessionStatus(ctx, sessionID); err == nil && status != "" {
		return status, nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return "", ErrRecoveryNotFound
		}
		return "", err
	}
	return session.PaymentStatus, nil
}

func (s *RecoveryService) checkRateLimit(ctx context.Context, email, clientIP string) error {
	for _, key := range []string{"recovery:ip:" + clientIP, "recovery:email:" + email} {
		allowed, err := s.limiter.Allow(ctx, key)
		if err != nil {
			s.logger.Warn("Recovery rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			return ErrRecoveryRateLimited
		}
	}
	return nil
}

// resolveVouchers finds or restores the vouchers behind a session. The
// second return is true when issuance ran during this call.
func (s *RecoveryService) resolveVouchers(ctx context.Context, session *models.PurchaseSession) ([]models.Voucher, bool, error) {
	switch session.PaymentStatus {
	case models.PaymentStatusCompleted:
		vouchers, err := s.store.VouchersBySession(ctx, session.ID)
		if err != nil {
			return nil, false, err
		}
		if len(vouchers) > 0 {
			return vouchers, false, nil
		}
		// Paid, flipped to completed, but issuance never landed. Re-run it.
		return s.reissue(ctx, session)

	case models.PaymentStatusPending:
		// The webhook may have been missed. Ask the provider directly.
		refreshed, vouchers, err := s.verifier.VerifySession(ctx, session.ID, s.completer)
		if err != nil {
			s.logger.Warn("Recovery reconciliation failed",
				zap.String("session_id", session.ID), zap.Error(err))
			return nil, false, nil
		}
		*session = *refreshed
		return vouchers, len(vouchers) > 0, nil

	default:
		return nil, false, nil
	}
}

// reissue pushes a completed-but-voucherless session back through the
// completion workflow, which tolerates the already-completed status.
func (s *RecoveryService) reissue(ctx context.Context, session *models.PurchaseSession) ([]models.Voucher, bool, error) {
	s.logger.Warn("Completed session has no vouchers, re-running issuance",
		zap.String("session_id", session.ID))

	payment := &gateway.PaymentResult{
		SessionID: session.ID,
		Status:    gateway.StatusCompleted,
	}
	if session.GatewayRef != nil {
		payment.TransactionID = *session.GatewayRef
	}

	result, err := s.completer.Complete(ctx, gatewayForSession(session), payment)
	if err != nil {
		return nil, false, err
	}
	*session = *result.Session
	return result.Vouchers, true, nil
}

func (s *RecoveryService) resend(ctx context.Context, session *models.PurchaseSession, vouchers []models.Voucher) {
	codes := make([]string, len(vouchers))
	for i, v := range vouchers {
		codes[i] = v.Code
	}

	event := &models.VoucherIssuedEvent{
		BaseEvent:    models.BaseEvent{EventType: models.EventTypeVoucherResend},
		SessionID:    session.ID,
		VoucherCodes: codes,
		Recovered:    true,
	}
	if session.CustomerEmail != nil {
		event.CustomerEmail = *session.CustomerEmail
	}
	if session.CustomerPhone != nil {
		event.CustomerPhone = *session.CustomerPhone
	}

	if err := s.notifier.PublishVoucherIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish resend event",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *RecoveryService) padLatency(start time.Time) {
	min := time.Duration(s.business.RecoveryMinLatencyMS) * time.Millisecond
	if elapsed := s.now().Sub(start); elapsed < min {
		s.sleep(min - elapsed)
	}
}
