package notify

import (
	"context"
	"strings"

	"voucher-service/internal/models"
	"voucher-service/internal/util"

	"go.uber.org/zap"
)

// Sender delivers voucher codes to customers. Delivery is downstream of the
// purchase: a failed send never unwinds an issued voucher.
type Sender interface {
	SendVoucherIssued(ctx context.Context, event *models.VoucherIssuedEvent) error
	SendPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// LogSender writes deliveries to the log. Stands in until the PNG SMS
// aggregator and transactional email provider are contracted.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender() *LogSender {
	return &LogSender{logger: util.GetLogger()}
}

func (s *LogSender) SendVoucherIssued(ctx context.Context, event *models.VoucherIssuedEvent) error {
	s.logger.Info("Delivering voucher codes",
		zap.String("session_id", event.SessionID),
		zap.String("email", maskEmail(event.CustomerEmail)),
		zap.String("phone", maskPhone(event.CustomerPhone)),
		zap.Int("vouchers", len(event.VoucherCodes)),
		zap.Bool("recovered", event.Recovered))
	return nil
}

func (s *LogSender) SendPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	s.logger.Info("Delivering payment failure notice",
		zap.String("session_id", event.SessionID),
		zap.String("gateway", event.Gateway),
		zap.String("reason", event.Reason))
	return nil
}

// maskEmail keeps the first character and the domain: j***@example.com.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at < 1 {
		return email
	}
	return email[:1] + "***" + email[at:]
}

// maskPhone keeps the last three digits.
func maskPhone(phone string) string {
	if len(phone) <= 3 {
		return phone
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}
