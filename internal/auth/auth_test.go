package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject, email string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret, []string{"support@example.com"})

	identity, err := v.Verify(signToken(t, testSecret, "user-1", "candidate@example.com", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "candidate@example.com", identity.Email)
	assert.False(t, identity.IsAdmin)
}

func TestVerifyAdminByEmailCaseInsensitive(t *testing.T) {
	v := NewVerifier(testSecret, []string{"Support@Example.com"})

	identity, err := v.Verify(signToken(t, testSecret, "admin-1", "SUPPORT@example.COM", time.Hour))
	require.NoError(t, err)
	assert.True(t, identity.IsAdmin)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, nil)

	_, err := v.Verify(signToken(t, "other-secret", "user-1", "a@b.com", time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret, nil)

	_, err := v.Verify(signToken(t, testSecret, "user-1", "a@b.com", -time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := NewVerifier(testSecret, nil)

	_, err := v.Verify(signToken(t, testSecret, "", "a@b.com", time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromBearer(t *testing.T) {
	v := NewVerifier(testSecret, nil)
	token := signToken(t, testSecret, "user-1", "a@b.com", time.Hour)

	identity, err := v.FromBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)

	_, err = v.FromBearer(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.FromBearer("Basic dXNlcjpwYXNz")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
