package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanTeams      = "teams"
	PlanEnterprise = "enterprise"
)

// User mirrors an identity-provider account. Rows are created on the
// provider's user.created webhook or on first /users/init and are only
// soft-deleted when the provider reports user.deleted.
type User struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	IdentitySubject    string         `gorm:"type:varchar(191);uniqueIndex;not null" json:"identity_subject" validate:"required,max=191"`
	Email              string         `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	Name               string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	AvatarURL          string         `gorm:"type:varchar(255);default:null" json:"avatar_url" validate:"max=255"`
	Plan               string         `gorm:"type:varchar(50);not null;default:'starter';index" json:"plan" validate:"oneof=starter pro teams enterprise"`
	Credits            int64          `gorm:"not null;default:0" json:"credits"`
	PaymentsCustomerID string         `gorm:"type:varchar(191);default:null;index" json:"-"`
	ValidationCount    int64          `gorm:"not null;default:0" json:"-"`
	LastSeenAt         *time.Time     `gorm:"type:timestamp;default:null" json:"last_seen_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsValidPlan reports whether the given string names a known plan tier.
func IsValidPlan(plan string) bool {
	switch plan {
	case PlanStarter, PlanPro, PlanTeams, PlanEnterprise:
		return true
	default:
		return false
	}
}
