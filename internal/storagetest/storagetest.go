// Package storagetest holds behavior tests shared by every persisting
// storage backend. Backend packages call the Run functions from their own
// tests with a fresh store.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-stateless/internal/testutil"
	"github.com/giantswarm/oauth2-stateless/storage"
)

// RunAuthCodeStoreTests exercises an AuthCodeStore
func RunAuthCodeStoreTests(t *testing.T, store storage.AuthCodeStore) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		code := testutil.GenerateTestAuthorizationCode()
		require.NoError(t, store.SaveAuthorizationCode(ctx, code))

		got, err := store.GetAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.Scopes, got.Scopes)
		assert.Equal(t, code.UserID, got.UserID)
		assert.Equal(t, "acme", got.Data["tenant"])
		assert.WithinDuration(t, code.ExpiresAt, got.ExpiresAt, time.Second)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := store.GetAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAuthCodeNotFound)

		_, err = store.ConsumeAuthorizationCode(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAuthCodeNotFound)
	})

	t.Run("consume is single use", func(t *testing.T) {
		code := testutil.GenerateTestAuthorizationCode()
		require.NoError(t, store.SaveAuthorizationCode(ctx, code))

		got, err := store.ConsumeAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, code.UserID, got.UserID)

		_, err = store.ConsumeAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrAuthCodeNotFound)
	})

	t.Run("concurrent consume", func(t *testing.T) {
		code := testutil.GenerateTestAuthorizationCode()
		require.NoError(t, store.SaveAuthorizationCode(ctx, code))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("delete", func(t *testing.T) {
		code := testutil.GenerateTestAuthorizationCode()
		require.NoError(t, store.SaveAuthorizationCode(ctx, code))
		require.NoError(t, store.DeleteAuthorizationCode(ctx, code.Code))

		_, err := store.GetAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrAuthCodeNotFound)

		assert.NoError(t, store.DeleteAuthorizationCode(ctx, code.Code))
	})
}

// RunAccessTokenStoreTests exercises the three indexes of an AccessTokenStore
func RunAccessTokenStoreTests(t *testing.T, store storage.AccessTokenStore) {
	ctx := context.Background()

	t.Run("lookups", func(t *testing.T) {
		token := testutil.GenerateTestAccessToken()
		token.UserID = testutil.GenerateRandomString(12)
		require.NoError(t, store.SaveToken(ctx, token))

		got, err := store.GetToken(ctx, token.Token)
		require.NoError(t, err)
		assert.Equal(t, token.RefreshToken, got.RefreshToken)
		assert.Equal(t, token.Scopes, got.Scopes)
		assert.Equal(t, "acme", got.Data["tenant"])

		got, err = store.GetTokenByRefreshToken(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, token.Token, got.Token)

		got, err = store.GetExistingToken(ctx, token.ClientID, token.GrantType, token.UserID)
		require.NoError(t, err)
		assert.Equal(t, token.Token, got.Token)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetToken(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		_, err = store.GetTokenByRefreshToken(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		_, err = store.GetExistingToken(ctx, "nobody", "password", "nobody")
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	})

	t.Run("existing token is the latest", func(t *testing.T) {
		userID := testutil.GenerateRandomString(12)
		first := testutil.GenerateTestAccessToken()
		first.UserID = userID
		second := testutil.GenerateTestAccessToken()
		second.UserID = userID

		require.NoError(t, store.SaveToken(ctx, first))
		require.NoError(t, store.SaveToken(ctx, second))

		got, err := store.GetExistingToken(ctx, second.ClientID, second.GrantType, userID)
		require.NoError(t, err)
		assert.Equal(t, second.Token, got.Token)
	})

	t.Run("delete refresh token", func(t *testing.T) {
		token := testutil.GenerateTestAccessToken()
		require.NoError(t, store.SaveToken(ctx, token))
		require.NoError(t, store.DeleteRefreshToken(ctx, token.RefreshToken))

		_, err := store.GetTokenByRefreshToken(ctx, token.RefreshToken)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		_, err = store.GetToken(ctx, token.Token)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		assert.NoError(t, store.DeleteRefreshToken(ctx, token.RefreshToken))
	})

	t.Run("consume refresh token", func(t *testing.T) {
		token := testutil.GenerateTestAccessToken()
		require.NoError(t, store.SaveToken(ctx, token))

		got, err := store.ConsumeRefreshToken(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, token.Token, got.Token)
		assert.Equal(t, token.UserID, got.UserID)

		_, err = store.GetToken(ctx, token.Token)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		_, err = store.ConsumeRefreshToken(ctx, token.RefreshToken)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	})

	t.Run("concurrent refresh token consume", func(t *testing.T) {
		token := testutil.GenerateTestAccessToken()
		require.NoError(t, store.SaveToken(ctx, token))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ConsumeRefreshToken(ctx, token.RefreshToken); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("carried refresh token maps to newest access token", func(t *testing.T) {
		old := testutil.GenerateTestAccessToken()
		require.NoError(t, store.SaveToken(ctx, old))

		renewed := testutil.GenerateTestAccessToken()
		renewed.RefreshToken = old.RefreshToken
		require.NoError(t, store.SaveToken(ctx, renewed))

		got, err := store.GetTokenByRefreshToken(ctx, old.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, renewed.Token, got.Token)

		_, err = store.GetToken(ctx, old.Token)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	})

	t.Run("token without refresh or expiry", func(t *testing.T) {
		token := testutil.GenerateTestAccessToken()
		token.RefreshToken = ""
		token.ExpiresAt = time.Time{}
		token.RefreshExpiresAt = time.Time{}
		token.Data = nil
		require.NoError(t, store.SaveToken(ctx, token))

		got, err := store.GetToken(ctx, token.Token)
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.IsZero())
		assert.Empty(t, got.RefreshToken)
	})
}

// RunDenylistTests exercises a Denylist
func RunDenylistTests(t *testing.T, denylist storage.Denylist) {
	ctx := context.Background()

	t.Run("revoke once", func(t *testing.T) {
		until := time.Now().Add(time.Hour)

		first, err := denylist.RevokeOnce(ctx, "once", until)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := denylist.RevokeOnce(ctx, "once", until)
		require.NoError(t, err)
		assert.False(t, second)

		revoked, err := denylist.IsRevoked(ctx, "once")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("revoke once after revoke", func(t *testing.T) {
		require.NoError(t, denylist.Revoke(ctx, "already", time.Time{}))

		first, err := denylist.RevokeOnce(ctx, "already", time.Time{})
		require.NoError(t, err)
		assert.False(t, first)
	})

	t.Run("concurrent revoke once", func(t *testing.T) {
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := denylist.RevokeOnce(ctx, "contended", time.Now().Add(time.Hour)); err == nil && ok {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})
}

// RunClientRoundTrip saves a bcrypt-hashed client through save and reads it back
func RunClientRoundTrip(t *testing.T, save func(context.Context, *storage.Client) error, clients storage.ClientStore) {
	ctx := context.Background()

	secret, err := storage.HashSecret(testutil.TestClientSecret)
	require.NoError(t, err)

	client := &storage.Client{
		ClientID:                testutil.TestClientID,
		Secret:                  secret,
		RedirectURIs:            []string{testutil.TestRedirectURI, "https://example.com/other"},
		AuthorizedGrants:        []string{"authorization_code", "refresh_token"},
		AuthorizedResponseTypes: []string{"code"},
	}
	require.NoError(t, save(ctx, client))

	got, err := clients.GetClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.AuthorizedGrants, got.AuthorizedGrants)
	assert.Equal(t, client.AuthorizedResponseTypes, got.AuthorizedResponseTypes)
	assert.True(t, got.VerifySecret(testutil.TestClientSecret))
	assert.False(t, got.VerifySecret("wrong"))

	_, err = clients.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}
