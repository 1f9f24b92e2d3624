package exttoken

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestVerifyChallenge(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	challenge := s256Challenge(verifier)

	assert.True(t, VerifyChallenge(challenge, verifier))
	assert.False(t, VerifyChallenge(challenge, strings.Repeat("b", 43)))
	assert.False(t, VerifyChallenge("", verifier))
}

func TestCreateAuthorizationCode_RejectsPlainMethod(t *testing.T) {
	_, err := CreateAuthorizationCode(AuthorizationGrant{
		Subject:       "user_1",
		CodeChallenge: s256Challenge(strings.Repeat("a", 43)),
	}, "plain")
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestCreateAuthorizationCode_RejectsMalformedChallenge(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
	}{
		{"empty", ""},
		{"too short", strings.Repeat("a", 42)},
		{"too long", strings.Repeat("a", 129)},
		{"bad characters", strings.Repeat("a", 42) + "!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateAuthorizationCode(AuthorizationGrant{
				Subject:       "user_1",
				CodeChallenge: tt.challenge,
			}, "S256")
			assert.ErrorIs(t, err, ErrInvalidGrant)
		})
	}
}

func TestConsumeAuthorizationCode_RejectsMalformedVerifier(t *testing.T) {
	_, err := ConsumeAuthorizationCode("somecode", "short")
	assert.ErrorIs(t, err, ErrInvalidGrant)

	_, err = ConsumeAuthorizationCode("", strings.Repeat("a", 43))
	assert.ErrorIs(t, err, ErrInvalidGrant)
}
