package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ExtensionToken records the SHA-256 hash of an issued editor-extension
// access credential. The plaintext credential is never persisted. A
// non-revoked, non-expired row authorizes exactly one issued credential.
type ExtensionToken struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	TokenHash       string     `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	Label           string     `gorm:"type:varchar(150);not null;default:''" json:"label"`
	SessionID       string     `gorm:"type:varchar(191);not null;default:'';index" json:"session_id"`
	ExpiresAt       time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	RevokedAt       *time.Time `gorm:"type:timestamp;default:null;index" json:"revoked_at,omitempty"`
	RefreshCount    int        `gorm:"not null;default:0" json:"refresh_count"`
	LastRefreshedAt *time.Time `gorm:"type:timestamp;default:null" json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HashToken computes the stored hash for a raw credential string.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsRevoked reports whether the token has been revoked.
func (t *ExtensionToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired treats a token exactly at its expiry boundary as expired.
func (t *ExtensionToken) IsExpired(now time.Time) bool {
	return !(now.Unix() < t.ExpiresAt.Unix())
}
