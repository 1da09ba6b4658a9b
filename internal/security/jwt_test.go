package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)

	token, err := manager.GenerateToken("u1", "alice", []string{"viewer", "admin"})
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.HasRole("admin"))
	assert.True(t, claims.HasAnyRole("editor", "viewer"))
	assert.False(t, claims.HasAnyRole("editor"))
}

func TestJWTManagerRefusesForeignTokens(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = manager.ValidateToken(signed)
	assert.Error(t, err)

	expired, err := NewJWTManager("secret", -time.Minute).GenerateToken("u1", "alice", nil)
	require.NoError(t, err)
	_, err = manager.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestExtractTokenFromHeader(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)

	token, err := manager.ExtractTokenFromHeader("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	_, err = manager.ExtractTokenFromHeader("")
	assert.ErrorIs(t, err, errMissingAuthorization)

	_, err = manager.ExtractTokenFromHeader("Basic abc")
	assert.ErrorIs(t, err, errNotBearer)
}
