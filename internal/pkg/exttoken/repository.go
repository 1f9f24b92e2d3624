package exttoken

import (
	"time"

	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
)

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a token repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserBySubject(subject string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("identity_subject = ?", subject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateToken(t *models.ExtensionToken) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) GetTokenByHash(hash string) (*models.ExtensionToken, error) {
	var token models.ExtensionToken
	if err := r.db.Where("token_hash = ?", hash).First(&token).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeTokenByHash sets revoked_at on the matching non-revoked row scoped
// to the owning user. Reports whether a row was revoked.
func (r *gormRepository) RevokeTokenByHash(userID uint, hash string) (bool, error) {
	now := time.Now()
	tx := r.db.Model(&models.ExtensionToken{}).
		Where("user_id = ? AND token_hash = ? AND revoked_at IS NULL", userID, hash).
		Update("revoked_at", &now)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) LatestRefreshCount(sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	var token models.ExtensionToken
	err := r.db.Where("session_id = ?", sessionID).
		Order("refresh_count DESC").
		First(&token).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return token.RefreshCount, nil
}
