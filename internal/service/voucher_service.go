package service

import (
	"context"
	"errors"
	"fmt"

	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

// ErrRefundUnavailable means the voucher has no payment reference a gateway
// could reverse (counter sales, or the provider never returned one).
var ErrRefundUnavailable = errors.New("no refundable payment reference")

// VoucherService handles voucher lifecycle operations after issuance.
type VoucherService struct {
	store    *store.Store
	gateways *gateway.Factory
	logger   *zap.Logger
}

// NewVoucherService creates a new voucher service
func NewVoucherService(st *store.Store, gateways *gateway.Factory) *VoucherService {
	return &VoucherService{
		store:    st,
		gateways: gateways,
		logger:   util.GetLogger(),
	}
}

// Get looks up a voucher by code.
func (s *VoucherService) Get(ctx context.Context, code string) (*models.Voucher, error) {
	return s.store.GetVoucherByCode(ctx, code)
}

// RegisterPassport binds a passport to an unregistered voucher, activating it.
func (s *VoucherService) RegisterPassport(ctx context.Context, code string, p *models.PassportPayload) (*models.Voucher, error) {
	if p == nil || p.PassportNumber == "" || p.Surname == "" || p.GivenName == "" {
		return nil, fmt.Errorf("%w: passport number, surname and given name are required", ErrValidation)
	}

	voucher, err := s.store.RegisterPassport(ctx, code, p)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Passport registered", zap.String("voucher_code", voucher.Code))
	return voucher, nil
}

// Redeem consumes an active voucher at border control. Exactly one of any
// number of concurrent attempts succeeds.
func (s *VoucherService) Redeem(ctx context.Context, code string) (*models.Voucher, error) {
	voucher, err := s.store.MarkUsed(ctx, code)
	if err != nil {
		return nil, err
	}

	util.VouchersRedeemedTotal.Inc()
	s.logger.Info("Voucher redeemed", zap.String("voucher_code", voucher.Code))
	return voucher, nil
}

// Refund reverses the payment behind an unused voucher, then marks it
// refunded. The gateway refund runs first so a provider rejection leaves the
// voucher usable.
func (s *VoucherService) Refund(ctx context.Context, code, reason string) (*models.Voucher, error) {
	voucher, err := s.store.GetVoucherByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if voucher.Status != models.VoucherStatusActive && voucher.Status != models.VoucherStatusPendingPassport {
		return nil, store.ErrVoucherNotUsable
	}
	if voucher.GatewayRef == nil || *voucher.GatewayRef == "" {
		return nil, ErrRefundUnavailable
	}

	gatewayName := ""
	if voucher.PurchaseSessionID != nil {
		if session, err := s.store.GetSession(ctx, *voucher.PurchaseSessionID); err == nil {
			gatewayName = gatewayForSession(session)
		}
	}

	gw, err := s.gateways.Gateway(gatewayName)
	if err != nil {
		return nil, err
	}

	refund, err := gw.Refund(ctx, *voucher.GatewayRef, voucher.Amount, reason)
	if err != nil {
		s.logger.Error("Gateway refund failed",
			zap.String("voucher_code", voucher.Code),
			zap.String("gateway", gw.Name()),
			zap.Error(err))
		return nil, err
	}

	refunded, err := s.store.MarkRefunded(ctx, code)
	if err != nil {
		// Money left the merchant account but the row did not flip. Loud
		// log so support reconciles by refund id.
		s.logger.Error("Refund succeeded but voucher update failed",
			zap.String("voucher_code", voucher.Code),
			zap.String("refund_id", refund.RefundID),
			zap.Error(err))
		return nil, err
	}

	util.VouchersRefundedTotal.Inc()
	s.logger.Info("Voucher refunded",
		zap.String("voucher_code", refunded.Code),
		zap.String("refund_id", refund.RefundID))
	return refunded, nil
}
