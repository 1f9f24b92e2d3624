package exttoken

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/quillforge/quillforge/internal/pkg/cache"
)

const (
	authCodeTTL       = 5 * time.Minute
	authCodeKeyPrefix = "extauth:code:"
)

// RFC 7636 code_challenge / code_verifier alphabet, 43-128 chars.
var pkceCharset = regexp.MustCompile(`^[A-Za-z0-9._~-]{43,128}$`)

// AuthorizationGrant is the pending state behind a one-time authorization
// code: who authorized, which browser session, and the S256 challenge the
// extension must later prove knowledge of.
type AuthorizationGrant struct {
	Subject       string `json:"subject"`
	SessionID     string `json:"session_id"`
	CodeChallenge string `json:"code_challenge"`
	Label         string `json:"label"`
}

// CreateAuthorizationCode stores a grant under a fresh one-time code with a
// short TTL. Only the S256 challenge method is accepted.
func CreateAuthorizationCode(grant AuthorizationGrant, challengeMethod string) (string, error) {
	if challengeMethod != "" && challengeMethod != "S256" {
		return "", fmt.Errorf("%w: unsupported code_challenge_method %q", ErrInvalidGrant, challengeMethod)
	}
	if !pkceCharset.MatchString(grant.CodeChallenge) {
		return "", fmt.Errorf("%w: malformed code_challenge", ErrInvalidGrant)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := hex.EncodeToString(buf)

	payload, err := json.Marshal(grant)
	if err != nil {
		return "", err
	}
	ok, err := cache.SetNX(authCodeKeyPrefix+code, payload, authCodeTTL)
	if err != nil {
		return "", err
	}
	if !ok {
		// 256-bit collision; practically unreachable.
		return "", fmt.Errorf("authorization code collision")
	}
	return code, nil
}

// ConsumeAuthorizationCode atomically consumes a code and checks the PKCE
// proof: base64url(sha256(verifier)) must equal the stored challenge. A
// second exchange of the same code loses the GETDEL race and fails.
func ConsumeAuthorizationCode(code, verifier string) (*AuthorizationGrant, error) {
	if code == "" || !pkceCharset.MatchString(verifier) {
		return nil, fmt.Errorf("%w: missing code or malformed code_verifier", ErrInvalidGrant)
	}

	raw, err := cache.GetDel(authCodeKeyPrefix + code)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, fmt.Errorf("%w: unknown or already used code", ErrInvalidGrant)
		}
		return nil, err
	}

	var grant AuthorizationGrant
	if err := json.Unmarshal([]byte(raw), &grant); err != nil {
		return nil, err
	}

	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(derived), []byte(grant.CodeChallenge)) != 1 {
		return nil, fmt.Errorf("%w: code_verifier does not match challenge", ErrInvalidGrant)
	}
	return &grant, nil
}

// VerifyChallenge reports whether verifier proves challenge under S256.
// Exposed for tests and the authorize handler's eager validation.
func VerifyChallenge(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) == 1
}
