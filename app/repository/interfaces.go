package repository

import (
	"github.com/quillforge/quillforge/app/models"
)

// UserRepository provides user persistence operations. Upserts go through
// the upsert_user stored procedure so concurrent webhook and init calls
// cannot race a duplicate row into existence.
type UserRepository interface {
	GetBySubject(subject string) (*models.User, error)
	UpsertBySubject(subject, email, name, avatarURL string) (*models.User, error)
	SoftDeleteBySubject(subject string) error
	TouchLastSeen(userID uint) error
	AddValidationCount(userID uint, delta int64) error
}

// TokenRepository lists and inspects extension token records for account
// views. Lifecycle mutations live in the exttoken package.
type TokenRepository interface {
	ListByUser(userID uint, includeRevoked bool) ([]models.ExtensionToken, error)
	RevokeAllForUser(userID uint) (int64, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	User  UserRepository
	Token TokenRepository
}
