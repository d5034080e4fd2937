package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	hash, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, svc.CheckPassword("correct horse battery staple", hash))
	assert.False(t, svc.CheckPassword("wrong password", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.GenerateToken("op-1", RoleTO, "guild-1")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.OperatorID)
	assert.Equal(t, RoleTO, claims.Role)
	assert.Equal(t, "guild-1", claims.GuildID)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewService("secret-a")
	verifier := NewService("secret-b")

	token, err := issuer.GenerateToken("op-1", RoleAdmin, "")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)

	_, err = issuer.ValidateToken(token + "x")
	assert.Error(t, err)

	_, err = issuer.ValidateToken("not a token")
	assert.Error(t, err)
}

func TestTokenRejectsExpired(t *testing.T) {
	svc := NewService("test-secret")

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": "op-1",
		"role":        RoleTO,
		"guild_id":    "guild-1",
		"exp":         time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := stale.SignedString(svc.jwtSecret)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)
}

func TestTokenRejectsMissingOperatorClaim(t *testing.T) {
	svc := NewService("test-secret")

	anon := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := anon.SignedString(svc.jwtSecret)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
