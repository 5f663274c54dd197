package tokengen

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes_Generate(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"default", 0, DefaultRandomLength},
		{"custom", 64, 64},
		{"full digest", 128, 128},
		{"too long falls back", 500, DefaultRandomLength},
		{"negative falls back", -1, DefaultRandomLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewRandomBytes(tt.length)
			tok, err := gen.Generate(Params{})
			require.NoError(t, err)
			assert.Len(t, tok, tt.want)

			_, err = hex.DecodeString(tok[:len(tok)-len(tok)%2])
			assert.NoError(t, err, "token should be hex encoded")

			other, err := gen.RefreshGenerate(Params{})
			require.NoError(t, err)
			assert.NotEqual(t, tok, other)
		})
	}
}

func TestUUID_Generate(t *testing.T) {
	tok, err := UUID{}.Generate(Params{})
	require.NoError(t, err)

	parsed, err := uuid.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}

func TestVerifier_Generate(t *testing.T) {
	tok, err := Verifier{}.Generate(Params{})
	require.NoError(t, err)
	assert.Len(t, tok, 43)
	assert.NotEqual(t, GenerateCode(), GenerateCode())
}

func TestGenerator_CreateAccessTokenData(t *testing.T) {
	gen := New(UUID{}, WithExpiresIn(map[string]int64{
		"password":           600,
		"authorization_code": 0,
	}))

	t.Run("grant with lifetime gets refresh token", func(t *testing.T) {
		data, err := gen.CreateAccessTokenData(Params{GrantType: "password"})
		require.NoError(t, err)
		assert.NotEmpty(t, data.AccessToken)
		assert.NotEmpty(t, data.RefreshToken)
		assert.Equal(t, "Bearer", data.TokenType)
		assert.Equal(t, int64(600), data.ExpiresIn)
	})

	t.Run("grant with zero lifetime gets no refresh token", func(t *testing.T) {
		data, err := gen.CreateAccessTokenData(Params{GrantType: "authorization_code"})
		require.NoError(t, err)
		assert.Empty(t, data.RefreshToken)
		assert.Zero(t, data.ExpiresIn)
	})

	t.Run("unconfigured grant gets no refresh token", func(t *testing.T) {
		data, err := gen.CreateAccessTokenData(Params{GrantType: "client_credentials"})
		require.NoError(t, err)
		assert.Empty(t, data.RefreshToken)
		assert.Zero(t, data.ExpiresIn)
	})
}

func TestGenerator_DefaultsToRandomBytes(t *testing.T) {
	gen := New(nil, WithRefreshExpiresIn(3600))
	_, ok := gen.Strategy().(*RandomBytes)
	assert.True(t, ok)
	assert.Equal(t, int64(3600), gen.RefreshExpiresIn())
}

func TestDeadline(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.True(t, Deadline(now, 0).IsZero())
	assert.Equal(t, now.Add(90*time.Second), Deadline(now, 90))
}
