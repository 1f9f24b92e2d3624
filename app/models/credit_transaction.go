package models

import "time"

const (
	CreditTxGrant      = "grant"
	CreditTxUsage      = "usage"
	CreditTxRefund     = "refund"
	CreditTxBonus      = "bonus"
	CreditTxConversion = "conversion"
)

// CreditTransaction is the append-only audit trail of the credit ledger.
// Rows are written by the grant/deduct stored procedures in the same unit
// of work as the balance mutation and are never updated or deleted.
type CreditTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	OrgID        *uint     `gorm:"default:null;index" json:"org_id,omitempty"`
	Amount       int64     `gorm:"not null" json:"amount"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	Kind         string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	Description  string    `gorm:"type:varchar(255);not null;default:''" json:"description"`
	ReferenceID  string    `gorm:"type:varchar(191);default:null;index" json:"reference_id,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsValidCreditTxKind reports whether kind names a known transaction kind.
func IsValidCreditTxKind(kind string) bool {
	switch kind {
	case CreditTxGrant, CreditTxUsage, CreditTxRefund, CreditTxBonus, CreditTxConversion:
		return true
	default:
		return false
	}
}
