// Package exttoken issues, refreshes, revokes and validates the editor
// extension's bearer credentials. Only the SHA-256 hash of an issued access
// credential is persisted; a non-revoked, non-expired hash row authorizes
// exactly one credential.
package exttoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
	"github.com/quillforge/quillforge/internal/pkg/env"
)

const (
	// AccessTokenTTL is the unified access-credential lifetime for every
	// flow (extension and general purpose).
	AccessTokenTTL = 24 * time.Hour
	// RefreshTokenTTL is the extension's long-lived credential
	// (12,096,000 seconds).
	RefreshTokenTTL = 140 * 24 * time.Hour

	tokenIssuer   = "quillforge"
	tokenAudience = "quillforge-extension"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	ErrConfiguration     = errors.New("extension token secret is not configured")
	ErrUserNotFound      = errors.New("no user for identity subject")
	ErrPersistence       = errors.New("failed to persist token record")
	ErrInvalidGrant      = errors.New("invalid grant")
	ErrTokenNotFound     = errors.New("no matching non-revoked token")
	ErrInvalidCredential = errors.New("invalid extension credential")
)

// TokenPair is one issued access/refresh credential pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionID    string    `json:"session_id"`
}

type tokenClaims struct {
	Email     string `json:"email,omitempty"`
	Plan      string `json:"plan,omitempty"`
	Credits   int64  `json:"credits,omitempty"`
	SessionID string `json:"sid"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Repository provides the token persistence operations the service needs.
type Repository interface {
	GetUserBySubject(subject string) (*models.User, error)
	CreateToken(t *models.ExtensionToken) error
	GetTokenByHash(hash string) (*models.ExtensionToken, error)
	RevokeTokenByHash(userID uint, hash string) (bool, error)
	LatestRefreshCount(sessionID string) (int, error)
}

// Service implements the issued -> refreshed* -> revoked|expired lifecycle.
type Service struct {
	repo   Repository
	secret []byte
	now    func() time.Time
}

// NewService creates a token service with an injected signing secret.
func NewService(repo Repository, secret []byte) *Service {
	return &Service{repo: repo, secret: secret, now: time.Now}
}

// NewServiceFromDB wires the GORM repository and the env-configured secret.
func NewServiceFromDB(db *gorm.DB) (*Service, error) {
	secret := strings.TrimSpace(env.GetEnv("EXTENSION_JWT_SECRET", ""))
	if secret == "" {
		return nil, ErrConfiguration
	}
	return NewService(NewRepository(db), []byte(secret)), nil
}

// Issue mints an access/refresh pair for a verified identity session. The
// access credential embeds subject, email, plan, credit balance and session
// id; only its hash is stored.
func (s *Service) Issue(subject, sessionID, label string) (*TokenPair, error) {
	user, err := s.repo.GetUserBySubject(subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return s.issueForUser(user, sessionID, label, 0)
}

func (s *Service) issueForUser(user *models.User, sessionID, label string, refreshCount int) (*TokenPair, error) {
	now := s.now()
	expiresAt := now.Add(AccessTokenTTL)

	accessClaims := tokenClaims{
		Email:     user.Email,
		Plan:      user.Plan,
		Credits:   user.Credits,
		SessionID: sessionID,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   user.IdentitySubject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	refreshClaims := tokenClaims{
		SessionID: sessionID,
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   user.IdentitySubject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshTokenTTL)),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	record := &models.ExtensionToken{
		UserID:       user.ID,
		TokenHash:    models.HashToken(accessToken),
		Label:        label,
		SessionID:    sessionID,
		ExpiresAt:    expiresAt,
		RefreshCount: refreshCount,
	}
	if refreshCount > 0 {
		record.LastRefreshedAt = &now
	}
	if err := s.repo.CreateToken(record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		SessionID:    sessionID,
	}, nil
}

// Refresh rotates a pair. The session id carries forward so a login session
// stays continuous across rotations. The prior access credential, when
// supplied, gets revoked.
func (s *Service) Refresh(refreshToken, priorAccessToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if claims.TokenType != typeRefresh {
		return nil, ErrInvalidGrant
	}

	user, err := s.repo.GetUserBySubject(claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	if priorAccessToken != "" {
		if _, err := s.repo.RevokeTokenByHash(user.ID, models.HashToken(priorAccessToken)); err != nil {
			return nil, err
		}
	}

	refreshCount, err := s.repo.LatestRefreshCount(claims.SessionID)
	if err != nil {
		return nil, err
	}
	return s.issueForUser(user, claims.SessionID, "", refreshCount+1)
}

// Revoke recomputes the credential's hash and marks the matching
// non-revoked row, scoped to the owning user. A miss is idempotent, not a
// fault.
func (s *Service) Revoke(accessToken string) error {
	claims, err := s.parse(accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	user, err := s.repo.GetUserBySubject(claims.Subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTokenNotFound
		}
		return err
	}

	revoked, err := s.repo.RevokeTokenByHash(user.ID, models.HashToken(accessToken))
	if err != nil {
		return err
	}
	if !revoked {
		return ErrTokenNotFound
	}
	return nil
}

// Validate checks signature and expiry, confirms the hash row is still
// live, and returns the subject id. Used by "am I still logged in" probes.
func (s *Service) Validate(accessToken string) (string, error) {
	claims, err := s.parse(accessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.TokenType != typeAccess {
		return "", fmt.Errorf("%w: not an access credential", ErrInvalidCredential)
	}

	record, err := s.repo.GetTokenByHash(models.HashToken(accessToken))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: token not found", ErrInvalidCredential)
		}
		return "", err
	}
	if record.IsRevoked() {
		return "", fmt.Errorf("%w: token revoked", ErrInvalidCredential)
	}
	if record.IsExpired(s.now()) {
		return "", fmt.Errorf("%w: token expired", ErrInvalidCredential)
	}
	return claims.Subject, nil
}

func (s *Service) parse(raw string) (*tokenClaims, error) {
	if len(s.secret) == 0 {
		return nil, ErrConfiguration
	}
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("token parse failed: %w", err)
	}
	// A credential exactly at its expiry boundary is expired (strict <,
	// whole seconds).
	if claims.ExpiresAt == nil || !(s.now().Unix() < claims.ExpiresAt.Unix()) {
		return nil, errors.New("token expired")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
