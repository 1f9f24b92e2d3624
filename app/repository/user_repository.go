package repository

import (
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a user repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetBySubject(subject string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("identity_subject = ?", subject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertBySubject creates or refreshes the user row via the upsert_user
// stored procedure, then reads it back.
func (r *userRepository) UpsertBySubject(subject, email, name, avatarURL string) (*models.User, error) {
	if err := r.db.Exec("CALL upsert_user(?, ?, ?, ?)", subject, email, name, avatarURL).Error; err != nil {
		return nil, err
	}
	return r.GetBySubject(subject)
}

func (r *userRepository) SoftDeleteBySubject(subject string) error {
	return r.db.Where("identity_subject = ?", subject).Delete(&models.User{}).Error
}

func (r *userRepository) TouchLastSeen(userID uint) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("last_seen_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// AddValidationCount applies a batched validation-counter delta. Validation
// traffic is user activity, so last_seen_at refreshes with it.
func (r *userRepository) AddValidationCount(userID uint, delta int64) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{
			"validation_count": gorm.Expr("validation_count + ?", delta),
			"last_seen_at":     gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
}
