package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signer struct {
	key *rsa.PrivateKey
	pem string
}

func newTestSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &signer{key: key, pem: string(block)}
}

func (s *signer) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	require.NoError(t, err)
	return token
}

func sessionToken(t *testing.T, s *signer, subject, issuer string, exp time.Time) string {
	return s.sign(t, sessionClaims{
		SessionID: "sess_1",
		Email:     "ada@example.com",
		Name:      "Ada Lovelace",
		OrgRoles:  map[string]string{"org_abc": "admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
}

func TestVerifier_ValidCredential(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "https://id.example.com")
	require.NoError(t, err)

	token := sessionToken(t, s, "user_1", "https://id.example.com", time.Now().Add(time.Hour))
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.Subject)
	assert.Equal(t, "sess_1", claims.SessionID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada Lovelace", claims.Name)
	assert.Equal(t, "admin", claims.OrgRoles["org_abc"])
}

func TestVerifier_Expired(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "")
	require.NoError(t, err)

	token := sessionToken(t, s, "user_1", "", time.Now().Add(-time.Minute))
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_WrongIssuer(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "https://id.example.com")
	require.NoError(t, err)

	token := sessionToken(t, s, "user_1", "https://rogue.example.com", time.Now().Add(time.Hour))
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_WrongKey(t *testing.T) {
	a := newTestSigner(t)
	b := newTestSigner(t)
	v, err := NewVerifier(a.pem, "")
	require.NoError(t, err)

	token := sessionToken(t, b, "user_1", "", time.Now().Add(time.Hour))
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_RejectsHMACAlgorithm(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "")
	require.NoError(t, err)

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user_1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("not-an-rsa-key"))
	require.NoError(t, err)

	_, err = v.Verify(hmacToken)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_MissingSubject(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "")
	require.NoError(t, err)

	token := sessionToken(t, s, "", "", time.Now().Add(time.Hour))
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifier_EmptyCredential(t *testing.T) {
	s := newTestSigner(t)
	v, err := NewVerifier(s.pem, "")
	require.NoError(t, err)

	_, err = v.Verify("  ")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestNewVerifier_BadKey(t *testing.T) {
	_, err := NewVerifier("not pem at all", "")
	assert.ErrorIs(t, err, ErrConfiguration)
}
