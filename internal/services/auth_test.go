package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/homerec/internal/config"
)

func newAuthService(secret string) *AuthService {
	s := NewAuthService(config.AuthConfig{
		JWTSecret: secret,
		Issuer:    "homerec",
		AdminRole: "admin",
		TokenTTL:  time.Hour,
	}, quietLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestAuthService_RoundTrip(t *testing.T) {
	s := newAuthService("test-secret")

	token, err := s.GenerateToken("ops", []string{"admin"})
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasRole(s.AdminRole()))
	assert.False(t, claims.HasRole("viewer"))
}

func TestAuthService_Rejects(t *testing.T) {
	s := newAuthService("test-secret")
	token, err := s.GenerateToken("ops", []string{"admin"})
	require.NoError(t, err)

	t.Run("other secret", func(t *testing.T) {
		_, err := newAuthService("another-secret").ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		later := newAuthService("test-secret")
		later.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
		_, err := later.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("no secret configured", func(t *testing.T) {
		_, err := newAuthService("").GenerateToken("ops", nil)
		assert.Error(t, err)
		_, err = newAuthService("").ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.ValidateToken("not.a.token")
		assert.Error(t, err)
	})
}
