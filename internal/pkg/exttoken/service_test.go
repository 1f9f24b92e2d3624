package exttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/quillforge/quillforge/app/models"
)

type fakeTokenRepo struct {
	users  map[string]*models.User
	tokens map[string]*models.ExtensionToken
	nextID uint
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{
		users:  map[string]*models.User{},
		tokens: map[string]*models.ExtensionToken{},
	}
}

func (f *fakeTokenRepo) GetUserBySubject(subject string) (*models.User, error) {
	if u, ok := f.users[subject]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTokenRepo) CreateToken(t *models.ExtensionToken) error {
	f.nextID++
	t.ID = f.nextID
	f.tokens[t.TokenHash] = t
	return nil
}

func (f *fakeTokenRepo) GetTokenByHash(hash string) (*models.ExtensionToken, error) {
	if t, ok := f.tokens[hash]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTokenRepo) RevokeTokenByHash(userID uint, hash string) (bool, error) {
	t, ok := f.tokens[hash]
	if !ok || t.UserID != userID || t.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	t.RevokedAt = &now
	return true, nil
}

func (f *fakeTokenRepo) LatestRefreshCount(sessionID string) (int, error) {
	max := 0
	for _, t := range f.tokens {
		if t.SessionID == sessionID && t.RefreshCount > max {
			max = t.RefreshCount
		}
	}
	return max, nil
}

func newTestTokenService(t *testing.T) (*Service, *fakeTokenRepo) {
	t.Helper()
	repo := newFakeTokenRepo()
	repo.users["user_1"] = &models.User{
		ID: 1, IdentitySubject: "user_1", Email: "a@example.com",
		Plan: models.PlanPro, Credits: 500,
	}
	return NewService(repo, []byte("test-signing-secret")), repo
}

func TestIssue_ThenValidate(t *testing.T) {
	svc, repo := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "vscode on laptop")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, pair.SessionID)
	assert.Len(t, repo.tokens, 1)

	subject, err := svc.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user_1", subject)
}

func TestIssue_UnknownSubject(t *testing.T) {
	svc, _ := newTestTokenService(t)

	_, err := svc.Issue("user_unknown", "", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestValidate_RejectsRefreshToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	_, err = svc.Validate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestRevoke_ThenValidateFails(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(pair.AccessToken))

	_, err = svc.Validate(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestRevoke_SecondCallReportsNotFound(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(pair.AccessToken))
	assert.ErrorIs(t, svc.Revoke(pair.AccessToken), ErrTokenNotFound)
}

func TestRefresh_CarriesSessionID(t *testing.T) {
	svc, _ := newTestTokenService(t)

	first, err := svc.Issue("user_1", "session_abc", "")
	require.NoError(t, err)

	second, err := svc.Refresh(first.RefreshToken, first.AccessToken)
	require.NoError(t, err)

	assert.Equal(t, "session_abc", second.SessionID)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The prior access credential was revoked during refresh.
	_, err = svc.Validate(first.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)

	subject, err := svc.Validate(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user_1", subject)
}

func TestRefresh_IncrementsRefreshCount(t *testing.T) {
	svc, repo := newTestTokenService(t)

	first, err := svc.Issue("user_1", "session_abc", "")
	require.NoError(t, err)

	second, err := svc.Refresh(first.RefreshToken, "")
	require.NoError(t, err)
	third, err := svc.Refresh(second.RefreshToken, "")
	require.NoError(t, err)

	record, err := repo.GetTokenByHash(models.HashToken(third.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, 2, record.RefreshCount)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	_, err = svc.Refresh(pair.AccessToken, "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	_, err := svc.Refresh("not-a-jwt", "")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestValidate_ExpiryBoundaryIsStrict(t *testing.T) {
	svc, _ := newTestTokenService(t)

	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issuedAt }

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	// One second before expiry the credential still validates.
	svc.now = func() time.Time { return issuedAt.Add(AccessTokenTTL - time.Second) }
	_, err = svc.Validate(pair.AccessToken)
	require.NoError(t, err)

	// Exactly at the boundary it is already expired.
	svc.now = func() time.Time { return issuedAt.Add(AccessTokenTTL) }
	_, err = svc.Validate(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidate_WrongSecret(t *testing.T) {
	svc, repo := newTestTokenService(t)

	pair, err := svc.Issue("user_1", "", "")
	require.NoError(t, err)

	other := NewService(repo, []byte("different-secret"))
	_, err = other.Validate(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestValidate_WrongAudience(t *testing.T) {
	svc, _ := newTestTokenService(t)

	// Correct secret and issuer, but minted for a different audience.
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		SessionID: "sess_1",
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{"quillforge-web"},
			Subject:   "user_1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)

	_, err = svc.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
