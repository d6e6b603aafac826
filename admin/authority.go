// Package admin verifies the shared admin secret and issues the short-lived
// capability tokens that grant admin authority on a request.
package admin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	issuer = "cohort-ledger"
	scope  = "ledger:admin"
)

var (
	ErrBadSecret     = errors.New("admin secret does not match")
	ErrNotConfigured = errors.New("admin authority is not configured")
	ErrInvalidToken  = errors.New("invalid admin token")
)

// Claims are carried by an admin capability token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Authority checks the admin secret against a bcrypt hash and signs HS256 tokens.
type Authority struct {
	secretHash []byte
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewAuthority builds an Authority. An empty hash or key leaves it unconfigured:
// every check fails with ErrNotConfigured.
func NewAuthority(secretHash, signingKey string, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authority{
		secretHash: []byte(secretHash),
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (a *Authority) configured() bool {
	return a != nil && len(a.secretHash) > 0 && len(a.signingKey) > 0
}

// HashSecret returns the bcrypt hash to configure for secret.
func HashSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("admin secret cannot be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash admin secret: %w", err)
	}
	return string(h), nil
}

// CheckSecret compares secret with the configured hash.
func (a *Authority) CheckSecret(secret string) error {
	if a == nil || len(a.secretHash) == 0 {
		return ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(a.secretHash, []byte(secret)); err != nil {
		return ErrBadSecret
	}
	return nil
}

// IssueToken exchanges the admin secret for a signed capability token and its expiry.
func (a *Authority) IssueToken(secret string) (string, time.Time, error) {
	if !a.configured() {
		return "", time.Time{}, ErrNotConfigured
	}
	if err := a.CheckSecret(secret); err != nil {
		return "", time.Time{}, err
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return token, exp, nil
}

// VerifyToken checks signature, issuer, expiry and scope.
func (a *Authority) VerifyToken(token string) error {
	if !a.configured() {
		return ErrNotConfigured
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Scope != scope {
		return ErrInvalidToken
	}
	return nil
}
