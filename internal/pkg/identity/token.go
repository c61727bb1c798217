package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/env"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrVerifierNotConfigured = errors.New("session token verification key is not configured")
	ErrMissingToken          = errors.New("session token is missing")
	ErrInvalidToken          = errors.New("session token is invalid")
)

// SessionClaims are the claims carried by an identity-provider session token.
type SessionClaims struct {
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp"`
	jwt.RegisteredClaims
}

// Verifier validates RS256 session tokens issued by the identity provider.
type Verifier struct {
	key    *rsa.PublicKey
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier parses a PEM-encoded RSA public key.
func NewVerifier(pemKey string) (*Verifier, error) {
	pemKey = strings.TrimSpace(strings.ReplaceAll(pemKey, `\n`, "\n"))
	if pemKey == "" {
		return nil, ErrVerifierNotConfigured
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse CLERK_JWT_KEY: %w", err)
	}
	return &Verifier{key: key, leeway: 5 * time.Second, now: time.Now}, nil
}

// NewVerifierFromEnv builds a verifier from CLERK_JWT_KEY.
func NewVerifierFromEnv() (*Verifier, error) {
	return NewVerifier(env.GetEnv("CLERK_JWT_KEY", ""))
}

// Verify checks the signature and time claims and returns the claims. The
// subject is the owner id.
func (v *Verifier) Verify(raw string) (*SessionClaims, error) {
	if v == nil || v.key == nil {
		return nil, ErrVerifierNotConfigured
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
