package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/testutil"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")

var expiresIn = time.Hour

func Test_GenerateAccessToken(t *testing.T) {
	p := testutil.NewPrincipal("admin")
	token, err := jwtService.GenerateAccessToken(p, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, p.UserID.String(), claims.Subject)
	assert.Equal(t, p.TenantID.String(), claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(testutil.NewPrincipal("admin"), -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token has expired")
}

func Test_ValidateToken_WrongIssuerOrKey(t *testing.T) {
	p := testutil.NewPrincipal("owner")

	other, err := NewJWTService("test-signing-key", "someone-else").GenerateAccessToken(p, expiresIn)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(other)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))

	forged, err := NewJWTService("another-key", "test-issuer").GenerateAccessToken(p, expiresIn)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(forged)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func Test_Adapter(t *testing.T) {
	p := testutil.NewPrincipal("teacher")
	token, err := jwtService.GenerateAccessToken(p, expiresIn)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, p.UserID.String(), claims.UserID)
	assert.Equal(t, p.TenantID.String(), claims.TenantID)
	assert.Equal(t, "teacher", claims.Role)
}
