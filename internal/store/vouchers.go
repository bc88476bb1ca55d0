package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"voucher-service/internal/models"
)

// execGetter is the subset of sqlx.Tx and sqlx.DB the voucher queries need,
// so helpers run both inside and outside a transaction.
type execGetter interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

var _ execGetter = (*sqlx.Tx)(nil)
var _ execGetter = (*sqlx.DB)(nil)

// NewVoucherCode builds a channel-tagged code: prefix, base36 millisecond
// timestamp, and a uuid fragment. Uppercase throughout so codes survive
// being read over the phone.
func NewVoucherCode(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	frag := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", prefix, ts, frag))
}

func insertVoucherTx(ctx context.Context, tx execGetter, v *models.Voucher) error {
	query := `
		INSERT INTO vouchers (
			voucher_code, channel, customer_name, customer_email, customer_phone,
			passport_number, amount, currency, payment_mode, status,
			valid_from, valid_until, purchase_session_id, payment_gateway_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	return tx.GetContext(ctx, v, query,
		v.Code, v.Channel, v.CustomerName, v.CustomerEmail, v.CustomerPhone,
		v.PassportNumber, v.Amount, v.Currency, v.PaymentMode, v.Status,
		v.ValidFrom, v.ValidUntil, v.PurchaseSessionID, v.GatewayRef)
}

func vouchersBySessionTx(ctx context.Context, tx execGetter, sessionID string) ([]models.Voucher, error) {
	var vouchers []models.Voucher
	err := tx.SelectContext(ctx, &vouchers,
		"SELECT * FROM vouchers WHERE purchase_session_id = $1 ORDER BY id", sessionID)
	return vouchers, err
}

func upsertPassportTx(ctx context.Context, tx execGetter, p *models.PassportPayload) error {
	fullName := fmt.Sprintf("%s, %s", p.Surname, p.GivenName)

	dob := parseDate(p.DateOfBirth)
	expiry := parseDate(p.ExpiryDate)
	if expiry == nil {
		// Expiry omitted at the kiosk; assume the standard 10-year book.
		t := time.Now().AddDate(10, 0, 0)
		expiry = &t
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO passports (passport_number, full_name, nationality, date_of_birth, expiry_date)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (passport_number) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			nationality = COALESCE(EXCLUDED.nationality, passports.nationality),
			date_of_birth = COALESCE(EXCLUDED.date_of_birth, passports.date_of_birth),
			expiry_date = EXCLUDED.expiry_date,
			updated_at = NOW()`,
		p.PassportNumber, fullName, p.Nationality, dob, expiry)
	if err != nil {
		return fmt.Errorf("failed to upsert passport: %w", err)
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// VouchersBySession returns all vouchers issued for a purchase session.
func (s *Store) VouchersBySession(ctx context.Context, sessionID string) ([]models.Voucher, error) {
	return vouchersBySessionTx(ctx, s.db, sessionID)
}

// GetVoucherByCode looks up a voucher by its code.
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v,
		"SELECT * FROM vouchers WHERE voucher_code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// MarkUsed consumes a voucher. The conditional UPDATE is the single-use
// guarantee: only one of two concurrent redemptions sees a row change.
func (s *Store) MarkUsed(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, `
		UPDATE vouchers
		SET status = 'used', used_at = NOW()
		WHERE voucher_code = $1 AND status = 'active' AND valid_until > NOW()
		RETURNING *`,
		strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		// Distinguish a missing code from one that exists but cannot be
		// redeemed, so the caller can report which.
		if _, lookupErr := s.GetVoucherByCode(ctx, code); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrVoucherNotUsable
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RegisterPassport binds a passport to a pending_passport voucher and
// activates it. Already-registered vouchers are rejected regardless of
// whether the same passport is re-presented.
func (s *Store) RegisterPassport(ctx context.Context, code string, p *models.PassportPayload) (*models.Voucher, error) {
	if p.PassportNumber == "" {
		return nil, ErrMissingPassport
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := upsertPassportTx(ctx, tx, p); err != nil {
		return nil, err
	}

	var v models.Voucher
	err = tx.GetContext(ctx, &v, `
		UPDATE vouchers
		SET status = 'active',
		    passport_number = $2,
		    customer_name = $3
		WHERE voucher_code = $1 AND status = 'pending_passport'
		RETURNING *`,
		strings.ToUpper(strings.TrimSpace(code)),
		p.PassportNumber,
		fmt.Sprintf("%s, %s", p.Surname, p.GivenName))
	if err == sql.ErrNoRows {
		existing, lookupErr := lookupVoucherTx(ctx, tx, code)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing.Status == models.VoucherStatusActive || existing.Status == models.VoucherStatusUsed {
			return nil, ErrVoucherRegistered
		}
		return nil, ErrVoucherNotUsable
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &v, nil
}

// MarkRefunded flags a voucher refunded after the gateway accepts the
// refund. Used vouchers cannot be refunded.
func (s *Store) MarkRefunded(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, `
		UPDATE vouchers
		SET status = 'refunded'
		WHERE voucher_code = $1 AND status IN ('active', 'pending_passport')
		RETURNING *`,
		strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		if _, lookupErr := s.GetVoucherByCode(ctx, code); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, ErrVoucherNotUsable
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ExpireLapsedVouchers flips active vouchers whose validity window has
// passed. Runs from the same cleanup endpoint as session expiry.
func (s *Store) ExpireLapsedVouchers(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vouchers
		SET status = 'expired'
		WHERE status IN ('active', 'pending_passport') AND valid_until < NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func lookupVoucherTx(ctx context.Context, tx execGetter, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := tx.GetContext(ctx, &v,
		"SELECT * FROM vouchers WHERE voucher_code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
