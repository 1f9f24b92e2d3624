package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quillforge/quillforge/internal/pkg/env"
)

// Sentinel errors for credential verification.
var (
	ErrConfiguration     = errors.New("identity verification key is not configured")
	ErrInvalidCredential = errors.New("invalid identity credential")
)

// Claims is the verified content of an identity-provider session token.
type Claims struct {
	Subject   string
	SessionID string
	Email     string
	Name      string
	// OrgRoles maps organization external ids to the caller's role as
	// asserted by the identity provider. Claims are a cache; the identity
	// API is the source of truth on a miss.
	OrgRoles map[string]string
}

type sessionClaims struct {
	SessionID string            `json:"sid"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	OrgRoles  map[string]string `json:"orgs"`
	jwt.RegisteredClaims
}

// Verifier validates bearer credentials issued by the identity provider.
// Verification is pure: no database access happens here.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

var (
	defaultVerifier *Verifier
	verifierMu      sync.Mutex
)

// GetVerifier returns the process-wide verifier, constructing it from the
// environment on first use.
func GetVerifier() (*Verifier, error) {
	verifierMu.Lock()
	defer verifierMu.Unlock()
	if defaultVerifier != nil {
		return defaultVerifier, nil
	}
	v, err := NewVerifierFromEnv()
	if err != nil {
		return nil, err
	}
	defaultVerifier = v
	return defaultVerifier, nil
}

// NewVerifierFromEnv builds a verifier from IDENTITY_JWT_PUBLIC_KEY (PEM)
// and optional IDENTITY_ISSUER.
func NewVerifierFromEnv() (*Verifier, error) {
	pemKey := env.GetEnv("IDENTITY_JWT_PUBLIC_KEY", "")
	if strings.TrimSpace(pemKey) == "" {
		return nil, ErrConfiguration
	}
	return NewVerifier(pemKey, env.GetEnv("IDENTITY_ISSUER", ""))
}

// NewVerifier builds a verifier from a PEM-encoded RSA public key.
func NewVerifier(pemKey, issuer string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return &Verifier{publicKey: key, issuer: issuer}, nil
}

// Verify checks signature, expiry and issuer of a bearer credential and
// returns the verified claims. A credential exactly at its expiry boundary
// is treated as expired.
func (v *Verifier) Verify(token string) (*Claims, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty credential", ErrInvalidCredential)
	}

	claims := &sessionClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.publicKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	// Expiry is compared in whole seconds with a strict < check.
	if claims.ExpiresAt == nil || !(time.Now().Unix() < claims.ExpiresAt.Unix()) {
		return nil, fmt.Errorf("%w: credential expired", ErrInvalidCredential)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return &Claims{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		Email:     claims.Email,
		Name:      claims.Name,
		OrgRoles:  claims.OrgRoles,
	}, nil
}
