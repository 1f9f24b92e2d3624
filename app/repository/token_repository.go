package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
)

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a token repository backed by GORM.
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) ListByUser(userID uint, includeRevoked bool) ([]models.ExtensionToken, error) {
	query := r.db.Where("user_id = ?", userID)
	if !includeRevoked {
		query = query.Where("revoked_at IS NULL")
	}
	var tokens []models.ExtensionToken
	err := query.Order("id DESC").Find(&tokens).Error
	return tokens, err
}

// RevokeAllForUser revokes every live token, e.g. when the identity
// provider reports the account deleted.
func (r *tokenRepository) RevokeAllForUser(userID uint) (int64, error) {
	now := time.Now()
	tx := r.db.Model(&models.ExtensionToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", &now)
	return tx.RowsAffected, tx.Error
}
