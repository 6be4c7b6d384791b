package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"degreeproof/pkg/domain"
	dErrors "degreeproof/pkg/domain-errors"
)

const (
	testKey      = "test-signing-key-with-enough-entropy"
	testIssuer   = "https://idp.example.test"
	testAudience = "degreeproof"
)

func TestMintAndValidate(t *testing.T) {
	svc := NewJWTService(testKey, testIssuer, testAudience, time.Hour)
	actor := domain.Actor{ID: "user-7", Role: domain.RoleUploader, InstituteID: "I1"}

	token, err := svc.Mint(actor, time.Now())
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(svc).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.Subject)
	assert.Equal(t, "uploader", claims.Role)
	assert.Equal(t, "I1", claims.InstituteID)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewJWTService(testKey, testIssuer, testAudience, time.Hour)
	actor := domain.Actor{ID: "v", Role: domain.RoleVerifier}

	t.Run("expired token", func(t *testing.T) {
		token, err := svc.Mint(actor, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewJWTService("another-key-entirely-different", testIssuer, testAudience, time.Hour)
		token, err := other.Mint(actor, time.Now())
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong audience", func(t *testing.T) {
		other := NewJWTService(testKey, testIssuer, "someone-else", time.Hour)
		token, err := other.Mint(actor, time.Now())
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, RoleClaims{Role: "admin"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.Error(t, err)
	})
}

func TestMintRejectsUnknownRole(t *testing.T) {
	svc := NewJWTService(testKey, testIssuer, testAudience, time.Hour)
	_, err := svc.Mint(domain.Actor{ID: "x", Role: "root"}, time.Now())
	assert.Error(t, err)
}
