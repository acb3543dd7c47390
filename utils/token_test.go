package utils

import (
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJwtGenerateAndValidate(t *testing.T) {
	t.Setenv("API_SECRET", "unit-test")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "")

	token, err := JwtGenerate("owner-a", RoleAdmin)
	require.NoError(t, err)

	parsed, err := JwtValidate(token)
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	claim, ok := parsed.Claims.(*JwtCustomClaim)
	require.True(t, ok)
	assert.Equal(t, "owner-a", claim.Owner)
	assert.Equal(t, RoleAdmin, claim.Role)
}

func TestJwtValidateRejectsForeignTokens(t *testing.T) {
	t.Setenv("API_SECRET", "unit-test")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "")

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{Owner: "owner-a"})
	signed, err := other.SignedString([]byte("someone-else"))
	require.NoError(t, err)
	_, err = JwtValidate(signed)
	assert.Error(t, err)

	t.Setenv("TOKEN_HOUR_LIFESPAN", "-1")
	expired, err := JwtGenerate("owner-a", "")
	require.NoError(t, err)
	_, err = JwtValidate(expired)
	assert.Error(t, err)

	t.Setenv("TOKEN_HOUR_LIFESPAN", "abc")
	_, err = JwtGenerate("owner-a", "")
	assert.Error(t, err)
}
