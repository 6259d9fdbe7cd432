package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Secret:   "test-secret",
		Issuer:   "taskwell",
		Audience: "taskwell-clients",
		TTL:      time.Hour,
	}
}

func TestGenerateAndParse(t *testing.T) {
	opts := testOptions()
	token, expiresAt, err := GenerateToken("user-1", "user@example.com", opts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(opts.TTL), expiresAt, 5*time.Second)

	claims, err := Parse(token, opts)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "taskwell", claims.Issuer)
	assert.NotEmpty(t, claims.ID, "jti should be set")
}

func TestParseRejectsWrongSecret(t *testing.T) {
	opts := testOptions()
	token, _, err := GenerateToken("user-1", "user@example.com", opts)
	require.NoError(t, err)

	bad := opts
	bad.Secret = "other-secret"
	_, err = Parse(token, bad)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	opts := testOptions()
	opts.TTL = -time.Minute
	token, _, err := GenerateToken("user-1", "user@example.com", opts)
	require.NoError(t, err)

	_, err = Parse(token, testOptions())
	assert.Error(t, err)
}

func TestParseValidatesIssuerAndAudience(t *testing.T) {
	opts := testOptions()
	token, _, err := GenerateToken("user-1", "user@example.com", opts)
	require.NoError(t, err)

	wrongIssuer := opts
	wrongIssuer.Issuer = "someone-else"
	_, err = Parse(token, wrongIssuer)
	assert.Error(t, err)

	wrongAudience := opts
	wrongAudience.Audience = "other-clients"
	_, err = Parse(token, wrongAudience)
	assert.Error(t, err)
}
