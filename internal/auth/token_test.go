package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenService("s3cret", "CP-1", time.Minute)
	require.NoError(t, err)
	verifier, err := NewTokenService("s3cret", "", 0)
	require.NoError(t, err)

	token, err := issuer.Token()
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(token, "CP-1"))
	assert.ErrorIs(t, verifier.Verify(token, "CP-2"), ErrWrongChargePoint)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	issuer, err := NewTokenService("one", "CP-1", time.Minute)
	require.NoError(t, err)
	verifier, err := NewTokenService("two", "", 0)
	require.NoError(t, err)

	token, err := issuer.Token()
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(token, "CP-1"), jwt.ErrTokenSignatureInvalid)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer, err := NewTokenService("s3cret", "CP-1", time.Minute)
	require.NoError(t, err)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := issuer.Token()
	require.NoError(t, err)

	verifier, err := NewTokenService("s3cret", "", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(token, "CP-1"), jwt.ErrTokenExpired)
}

func TestTokenRequiresIdentity(t *testing.T) {
	_, err := NewTokenService("", "CP-1", 0)
	assert.ErrorIs(t, err, ErrNoSecret)

	svc, err := NewTokenService("s3cret", "", 0)
	require.NoError(t, err)
	_, err = svc.Token()
	assert.Error(t, err)
}
