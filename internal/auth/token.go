// Package auth issues and checks the bearer tokens used in the websocket handshake.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret         = errors.New("token: secret is required")
	ErrWrongChargePoint = errors.New("token: issued for another charge point")
)

// Claims is the token payload. Subject carries the charge point id.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 tokens.
type TokenService struct {
	secret    []byte
	subject   string
	expiresIn time.Duration
	now       func() time.Time
}

// NewTokenService returns a service for chargePointID. chargePointID may be empty on the
// verifying side.
func NewTokenService(secret, chargePointID string, expiresIn time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &TokenService{
		secret:    []byte(secret),
		subject:   chargePointID,
		expiresIn: expiresIn,
		now:       time.Now,
	}, nil
}

// Token issues a fresh token for the charge point. A new one is made for every dial.
func (t *TokenService) Token() (string, error) {
	if t.subject == "" {
		return "", errors.New("token: charge point id is required")
	}

	now := t.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   t.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify checks the signature and expiry of tokenString and that it was issued for
// chargePointID.
func (t *TokenService) Verify(tokenString, chargePointID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return errors.New("token: invalid claims")
	}
	if claims.Subject != chargePointID {
		return fmt.Errorf("%w: %q", ErrWrongChargePoint, claims.Subject)
	}
	return nil
}
