// ABOUTME: Unit tests for session token signing and verification
// ABOUTME: Covers claims round trip, rejected tokens, expiry and required claims

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("user-123", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 2*time.Second)
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("different-secret"))
	require.NoError(t, err)
	wrongSecret, err := other.Generate("user-123", time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-123"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": Issuer,
		"sub": "user-123",
	}).SignedString(testSecret)
	require.NoError(t, err)

	foreignIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "coven-gateway",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: wrongSecret},
		{name: "alg none", token: noneAlg},
		{name: "no expiry", token: noExpiry},
		{name: "foreign issuer", token: foreignIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("user-123", -time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)

	_, err = verifier.Generate("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingClaim)
}
