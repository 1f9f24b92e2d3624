// Package credits is the access layer for the credit ledger. Every balance
// mutation goes through a stored procedure that updates the balance and
// appends the audit row in one atomic unit; the floor-0 invariant lives in
// SQL, not here.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
)

var (
	// ErrInsufficientCredits is a business-rule rejection, not a fault:
	// the deduction would drive the balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrUserNotFound means no user row matches the identity subject.
	ErrUserNotFound = errors.New("user not found")
)

// Ledger mutates and reads per-user credit balances.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a ledger over a GORM handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

type balanceRow struct {
	NewBalance int64 `gorm:"column:new_balance"`
}

// Grant adds amount credits to the subject's balance and appends a ledger
// row, in one atomic database operation. Returns the new balance.
func (l *Ledger) Grant(ctx context.Context, subject string, amount int64, kind, description, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if !models.IsValidCreditTxKind(kind) {
		return 0, fmt.Errorf("unknown credit transaction kind %q", kind)
	}

	var row balanceRow
	err := l.db.WithContext(ctx).
		Raw("CALL grant_credits(?, ?, ?, ?, ?)", subject, amount, kind, description, referenceID).
		Scan(&row).Error
	if err != nil {
		return 0, mapProcedureError(err)
	}
	return row.NewBalance, nil
}

// Deduct removes amount credits from the subject's balance. Fails with
// ErrInsufficientCredits when the balance would go negative; the check and
// the write happen inside the procedure so concurrent deductions cannot
// race past the floor.
func (l *Ledger) Deduct(ctx context.Context, subject string, amount int64, description, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	var row balanceRow
	err := l.db.WithContext(ctx).
		Raw("CALL deduct_credits(?, ?, ?, ?)", subject, amount, description, referenceID).
		Scan(&row).Error
	if err != nil {
		return 0, mapProcedureError(err)
	}
	return row.NewBalance, nil
}

// Balance reads the subject's current balance.
func (l *Ledger) Balance(ctx context.Context, subject string) (int64, error) {
	var user models.User
	err := l.db.WithContext(ctx).
		Select("id", "credits").
		Where("identity_subject = ?", subject).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.Credits, nil
}

// History returns the most recent ledger rows for a subject.
func (l *Ledger) History(ctx context.Context, subject string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var user models.User
	err := l.db.WithContext(ctx).
		Select("id").
		Where("identity_subject = ?", subject).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var txs []models.CreditTransaction
	err = l.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Order("id DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// HasReference reports whether a ledger row with the given reference id
// already exists. Callers use this for pre-call idempotency checks; the
// ledger itself never deduplicates.
func (l *Ledger) HasReference(ctx context.Context, referenceID string) (bool, error) {
	if strings.TrimSpace(referenceID) == "" {
		return false, nil
	}
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("reference_id = ?", referenceID).
		Count(&count).Error
	return count > 0, err
}

// Stored procedures reject bad input via SIGNAL SQLSTATE '45000' with a
// well-known message text.
func mapProcedureError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "INSUFFICIENT_CREDITS"):
		return ErrInsufficientCredits
	case strings.Contains(msg, "USER_NOT_FOUND"):
		return ErrUserNotFound
	default:
		return err
	}
}
