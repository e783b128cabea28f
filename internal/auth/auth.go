// Package auth verifies the bearer tokens that identify job owners.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const DefaultTokenTTL = 24 * time.Hour

// Verifier checks HS256 tokens whose subject is the owner id.
type Verifier struct {
	key []byte
	now func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret is empty")
	}
	return &Verifier{key: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for owner that expires after ttl.
func (v *Verifier) Issue(owner string, ttl time.Duration) (string, error) {
	if owner == "" {
		return "", errors.New("owner is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Owner validates a raw token and returns its subject.
func (v *Verifier) Owner(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", ErrUnauthenticated)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token without subject: %w", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// OwnerFromHeader reads an "Authorization: Bearer <token>" value.
func (v *Verifier) OwnerFromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("missing bearer token: %w", ErrUnauthenticated)
	}
	return v.Owner(strings.TrimSpace(token))
}
