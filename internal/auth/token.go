// ABOUTME: HS256 session tokens naming the profile a CLI or client signs in as
// ABOUTME: Verification returns the subject and expiry so sessions can refresh ahead of time

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "coven-inbox"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrEmptySecret  = errors.New("jwt secret is empty")
)

// Claims is what a verified token says about its bearer.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// JWTVerifier signs and verifies session tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks signature, issuer and expiry. Tokens without exp are rejected.
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := v.parser.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpiredToken
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case rc.Subject == "":
		return Claims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return Claims{UserID: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}, nil
}

// Generate mints a token for userID valid for ttl.
func (v *JWTVerifier) Generate(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := time.Now()
	rc := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
