package service

import (
	"context"
	"fmt"

	"voucher-service/config"
	"voucher-service/internal/broker"
	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/redisclient"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

// CompletionResult is what a confirmed payment produced.
type CompletionResult struct {
	Session          *models.PurchaseSession
	Vouchers         []models.Voucher
	AlreadyCompleted bool
}

// Completer turns a confirmed gateway payment into issued vouchers. It is
// satisfied by CompletionService and faked in tests.
type Completer interface {
	Complete(ctx context.Context, gatewayName string, payment *gateway.PaymentResult) (*CompletionResult, error)
}

// Notifier publishes post-commit domain events. Delivery is best-effort;
// failures are logged, never surfaced to the payment path.
type Notifier interface {
	PublishVoucherIssued(ctx context.Context, event *models.VoucherIssuedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

var _ Notifier = (*broker.EventPublisher)(nil)

// CompletionService owns the paid-session-to-vouchers workflow. The database
// transaction is the gate: webhook handlers, verification reconciliation and
// recovery all funnel through Complete, and replays land on the idempotency
// check inside the transaction.
type CompletionService struct {
	store    *store.Store
	redis    *redisclient.Client
	events   Notifier
	business *config.BusinessConfig
	logger   *zap.Logger
}

// NewCompletionService creates a new completion service
func NewCompletionService(
	st *store.Store,
	redis *redisclient.Client,
	events Notifier,
	business *config.BusinessConfig,
) *CompletionService {
	return &CompletionService{
		store:    st,
		redis:    redis,
		events:   events,
		business: business,
		logger:   util.GetLogger(),
	}
}

// Complete issues vouchers for a confirmed payment.
func (s *CompletionService) Complete(ctx context.Context, gatewayName string, payment *gateway.PaymentResult) (*CompletionResult, error) {
	ctx, span := util.StartSpan(ctx, "CompletionService.Complete")
	defer span.End()

	if payment == nil || payment.SessionID == "" {
		return nil, fmt.Errorf("payment result missing session id")
	}

	outcome, err := s.store.CompletePurchase(ctx, payment.SessionID, store.CompletionParams{
		Payment:      payment,
		Channel:      models.ChannelOnline,
		ValidityDays: s.business.VoucherValidityDays,
	})
	if err != nil {
		return nil, err
	}

	if outcome.AlreadyCompleted {
		s.logger.Info("Duplicate completion ignored",
			zap.String("session_id", payment.SessionID),
			zap.String("gateway", gatewayName))
		return &CompletionResult{
			Session:          outcome.Session,
			Vouchers:         outcome.Vouchers,
			AlreadyCompleted: true,
		}, nil
	}

	util.SessionsCompletedTotal.WithLabelValues(gatewayName).Inc()
	util.VouchersIssuedTotal.WithLabelValues(models.ChannelOnline).Add(float64(len(outcome.Vouchers)))
	_ = s.redis.CacheSessionStatus(ctx, payment.SessionID, models.PaymentStatusCompleted, statusCacheTTL)

	s.logger.Info("Purchase completed",
		zap.String("session_id", payment.SessionID),
		zap.String("gateway", gatewayName),
		zap.Int("vouchers", len(outcome.Vouchers)))

	s.publishIssued(ctx, outcome, false)

	return &CompletionResult{Session: outcome.Session, Vouchers: outcome.Vouchers}, nil
}

// RecordFailure marks a pending session failed after a terminal gateway
// report. Completed sessions are untouched by the monotonic status guard.
func (s *CompletionService) RecordFailure(ctx context.Context, gatewayName string, payment *gateway.PaymentResult) error {
	updated, err := s.store.UpdateSessionStatus(ctx, payment.SessionID, payment.Status, payment.TransactionID)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	util.PaymentFailedTotal.WithLabelValues(gatewayName).Inc()
	_ = s.redis.CacheSessionStatus(ctx, payment.SessionID, payment.Status, statusCacheTTL)

	event := &models.PaymentFailedEvent{
		SessionID: payment.SessionID,
		Gateway:   gatewayName,
		Reason:    payment.Status,
	}
	if err := s.events.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event",
			zap.String("session_id", payment.SessionID), zap.Error(err))
	}
	return nil
}

func (s *CompletionService) publishIssued(ctx context.Context, outcome *store.CompletionOutcome, recovered bool) {
	codes := make([]string, len(outcome.Vouchers))
	for i, v := range outcome.Vouchers {
		codes[i] = v.Code
	}

	event := &models.VoucherIssuedEvent{
		SessionID:    outcome.Session.ID,
		VoucherCodes: codes,
		Recovered:    recovered,
	}
	if outcome.Session.CustomerEmail != nil {
		event.CustomerEmail = *outcome.Session.CustomerEmail
	}
	if outcome.Session.CustomerPhone != nil {
		event.CustomerPhone = *outcome.Session.CustomerPhone
	}

	if err := s.events.PublishVoucherIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish VoucherIssued event",
			zap.String("session_id", outcome.Session.ID), zap.Error(err))
	}
}
