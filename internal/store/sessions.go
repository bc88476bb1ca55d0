package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"voucher-service/internal/gateway"
	"voucher-service/internal/models"
)

// CreateSession inserts a new pending purchase session.
func (s *Store) CreateSession(ctx context.Context, session *models.PurchaseSession) error {
	query := `
		INSERT INTO purchase_sessions (
			id, customer_email, customer_phone, quantity, amount, currency,
			delivery_method, payment_status, passport_data, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	return s.db.GetContext(ctx, &session.CreatedAt, query,
		session.ID, session.CustomerEmail, session.CustomerPhone,
		session.Quantity, session.Amount, session.Currency,
		session.DeliveryMethod, session.PaymentStatus,
		nullableJSON(session.PassportData), session.ExpiresAt)
}

// GetSession retrieves a purchase session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.PurchaseSession, error) {
	var session models.PurchaseSession
	err := s.db.GetContext(ctx, &session, "SELECT * FROM purchase_sessions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSessionStatus records a non-completed provider status. The WHERE
// guard keeps transitions monotonic: completed rows are never rewritten.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status, gatewayRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_sessions
		SET payment_status = $2,
		    payment_gateway_ref = COALESCE(NULLIF($3, ''), payment_gateway_ref)
		WHERE id = $1 AND payment_status = 'pending'`,
		id, status, gatewayRef)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpiredSessions removes stale pending sessions; completed rows are
// never deleted. Invoked by the cron-triggered cleanup endpoint.
func (s *Store) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM purchase_sessions
		WHERE expires_at < NOW() AND payment_status = 'pending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CompletionParams carries everything CompletePurchase needs beyond the
// session row itself.
type CompletionParams struct {
	Payment      *gateway.PaymentResult
	Channel      string
	ValidityDays int
}

// CompletionOutcome reports what the completion transaction did.
type CompletionOutcome struct {
	Session          *models.PurchaseSession
	Vouchers         []models.Voucher
	AlreadyCompleted bool
}

// CompletePurchase runs the paid-session-to-vouchers transition as one
// transaction: lock the session row, check idempotency, issue vouchers
// (upserting the passport for the single-voucher flow), then mark the
// session completed. A replayed webhook or a racing recovery call finds the
// row already completed and gets the existing voucher set back.
func (s *Store) CompletePurchase(ctx context.Context, sessionID string, p CompletionParams) (*CompletionOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var session models.PurchaseSession
	err = tx.GetContext(ctx, &session,
		"SELECT * FROM purchase_sessions WHERE id = $1 FOR UPDATE", sessionID)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	if session.PaymentStatus == models.PaymentStatusCompleted {
		vouchers, err := vouchersBySessionTx(ctx, tx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(vouchers) > 0 {
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return &CompletionOutcome{Session: &session, Vouchers: vouchers, AlreadyCompleted: true}, nil
		}
		// Completed but voucherless: the status update landed without
		// issuance (missed-webhook recovery). Fall through and issue.
	} else if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	var vouchers []models.Voucher
	if len(session.PassportData) > 0 {
		vouchers, err = s.issuePassportVoucher(ctx, tx, &session, p)
	} else {
		vouchers, err = s.issueVoucherBatch(ctx, tx, &session, p)
	}
	if err != nil {
		return nil, err
	}

	sessionData, err := mergeSessionData(session.SessionData, p.Payment.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to merge session data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_sessions
		SET payment_status = 'completed',
		    payment_gateway_ref = COALESCE(NULLIF($2, ''), payment_gateway_ref),
		    session_data = $3,
		    completed_at = NOW()
		WHERE id = $1`,
		sessionID, p.Payment.TransactionID, sessionData)
	if err != nil {
		return nil, fmt.Errorf("failed to mark session completed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.PaymentStatus = models.PaymentStatusCompleted
	now := time.Now()
	session.CompletedAt = &now
	session.SessionData = sessionData

	return &CompletionOutcome{Session: &session, Vouchers: vouchers}, nil
}

// issueVoucherBatch creates quantity unregistered vouchers sharing the
// session id, splitting the total by the largest-remainder rule so the
// parts always sum back to the total.
func (s *Store) issueVoucherBatch(ctx context.Context, tx execGetter, session *models.PurchaseSession, p CompletionParams) ([]models.Voucher, error) {
	amounts := splitAmount(session.Amount, session.Quantity)
	validFrom := time.Now()
	validUntil := validFrom.AddDate(0, 0, p.ValidityDays)

	vouchers := make([]models.Voucher, 0, session.Quantity)
	for i := 0; i < session.Quantity; i++ {
		v := models.Voucher{
			Code:              NewVoucherCode(models.CodePrefix(p.Channel)),
			Channel:           p.Channel,
			CustomerName:      contactName(session),
			CustomerEmail:     session.CustomerEmail,
			CustomerPhone:     session.CustomerPhone,
			Amount:            amounts[i],
			Currency:          session.Currency,
			PaymentMode:       p.Payment.PaymentMethod,
			Status:            models.VoucherStatusPendingPassport,
			ValidFrom:         validFrom,
			ValidUntil:        validUntil,
			PurchaseSessionID: &session.ID,
		}
		if p.Payment.TransactionID != "" {
			v.GatewayRef = &p.Payment.TransactionID
		}
		if err := insertVoucherTx(ctx, tx, &v); err != nil {
			return nil, fmt.Errorf("failed to create voucher: %w", err)
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, nil
}

// issuePassportVoucher handles the single-voucher buy-online flow: upsert
// the passport snapshot, then create one active voucher linked to it.
func (s *Store) issuePassportVoucher(ctx context.Context, tx execGetter, session *models.PurchaseSession, p CompletionParams) ([]models.Voucher, error) {
	var payload models.PassportPayload
	if err := json.Unmarshal(session.PassportData, &payload); err != nil {
		return nil, fmt.Errorf("invalid passport data: %w", err)
	}
	if payload.PassportNumber == "" {
		return nil, ErrMissingPassport
	}

	if err := upsertPassportTx(ctx, tx, &payload); err != nil {
		return nil, err
	}

	validFrom := time.Now()
	v := models.Voucher{
		Code:              NewVoucherCode(models.CodePrefix(p.Channel)),
		Channel:           p.Channel,
		CustomerName:      fmt.Sprintf("%s, %s", payload.Surname, payload.GivenName),
		CustomerEmail:     session.CustomerEmail,
		CustomerPhone:     session.CustomerPhone,
		PassportNumber:    &payload.PassportNumber,
		Amount:            session.Amount,
		Currency:          session.Currency,
		PaymentMode:       p.Payment.PaymentMethod,
		Status:            models.VoucherStatusActive,
		ValidFrom:         validFrom,
		ValidUntil:        validFrom.AddDate(0, 0, p.ValidityDays),
		PurchaseSessionID: &session.ID,
	}
	if p.Payment.TransactionID != "" {
		v.GatewayRef = &p.Payment.TransactionID
	}
	if err := insertVoucherTx(ctx, tx, &v); err != nil {
		return nil, fmt.Errorf("failed to create voucher: %w", err)
	}
	return []models.Voucher{v}, nil
}

// splitAmount divides total into n parts by the largest-remainder rule:
// every part gets total/n, the first total%n parts one extra toea.
func splitAmount(total int64, n int) []int64 {
	base := total / int64(n)
	remainder := total % int64(n)

	parts := make([]int64, n)
	for i := range parts {
		parts[i] = base
		if int64(i) < remainder {
			parts[i]++
		}
	}
	return parts
}

// mergeSessionData overlays the provider's raw response onto the session's
// existing JSON blob, preserving prior keys that the new payload does not
// touch.
func mergeSessionData(existing json.RawMessage, raw map[string]interface{}) (json.RawMessage, error) {
	merged := make(map[string]interface{})
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			// Prior blob is unreadable; keep it under its own key rather
			// than dropping it.
			merged["_previous"] = string(existing)
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func contactName(session *models.PurchaseSession) string {
	if session.CustomerEmail != nil && *session.CustomerEmail != "" {
		return *session.CustomerEmail
	}
	if session.CustomerPhone != nil && *session.CustomerPhone != "" {
		return *session.CustomerPhone
	}
	return "Online Customer"
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
