package stateless_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/internal/testutil"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/storage/memory"
	"github.com/giantswarm/oauth2-stateless/storage/stateless"
	"github.com/giantswarm/oauth2-stateless/tokengen"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newStrategy(t *testing.T, clock *testutil.MockTime) *tokengen.Stateless {
	t.Helper()
	s, err := tokengen.NewStateless(secret,
		tokengen.WithAccessTTL(time.Hour),
		tokengen.WithRefreshTTL(24*time.Hour),
		tokengen.WithClock(clock.Now),
	)
	require.NoError(t, err)
	return s
}

func newMemoryStore(t *testing.T, clock *testutil.MockTime) *memory.Store {
	t.Helper()
	m := memory.New()
	m.SetClock(clock.Now)
	t.Cleanup(m.Stop)
	return m
}

func TestStore_GetToken(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	strategy := newStrategy(t, clock)
	store := stateless.New(strategy, nil, nil)
	ctx := context.Background()

	params := tokengen.Params{
		GrantType: "password",
		UserID:    "user-1",
		ClientID:  "abc",
		Scopes:    []string{"read", "write"},
		Data:      map[string]any{"tenant": "acme"},
	}
	access, err := strategy.Generate(params)
	require.NoError(t, err)

	// SaveToken keeps nothing, lookups work regardless
	require.NoError(t, store.SaveToken(ctx, &storage.AccessToken{Token: access}))

	token, err := store.GetToken(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, access, token.Token)
	assert.Equal(t, storage.TokenTypeBearer, token.TokenType)
	assert.Equal(t, "abc", token.ClientID)
	assert.Equal(t, "password", token.GrantType)
	assert.Equal(t, "user-1", token.UserID)
	assert.Equal(t, []string{"read", "write"}, token.Scopes)
	assert.Equal(t, "acme", token.Data["tenant"])
	assert.True(t, token.ExpiresAt.Equal(clock.Now().Add(time.Hour)))

	clock.Advance(time.Hour + time.Second)
	_, err = store.GetToken(ctx, access)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
}

func TestStore_TokenTypes(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	strategy := newStrategy(t, clock)
	store := stateless.New(strategy, nil, nil)
	ctx := context.Background()

	params := tokengen.Params{GrantType: "password", UserID: "u", ClientID: "abc"}
	access, err := strategy.Generate(params)
	require.NoError(t, err)
	refresh, err := strategy.RefreshGenerate(params)
	require.NoError(t, err)

	_, err = store.GetTokenByRefreshToken(ctx, access)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound, "access token must not work as a refresh token")
	_, err = store.GetToken(ctx, refresh)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound, "refresh token must not work as an access token")

	token, err := store.GetTokenByRefreshToken(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, refresh, token.RefreshToken)
	assert.Empty(t, token.Token)
	assert.Equal(t, "abc", token.ClientID)
	assert.True(t, token.RefreshExpiresAt.Equal(clock.Now().Add(24*time.Hour)))

	_, err = store.GetToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

	other, err := tokengen.NewStateless([]byte("another secret entirely"))
	require.NoError(t, err)
	forged, err := other.Generate(params)
	require.NoError(t, err)
	_, err = store.GetToken(ctx, forged)
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
}

func TestStore_DeleteRefreshToken(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	strategy := newStrategy(t, clock)
	ctx := context.Background()

	refresh, err := strategy.RefreshGenerate(tokengen.Params{ClientID: "abc", UserID: "u"})
	require.NoError(t, err)

	t.Run("without denylist", func(t *testing.T) {
		store := stateless.New(strategy, nil, nil)
		require.NoError(t, store.DeleteRefreshToken(ctx, refresh))
		_, err := store.GetTokenByRefreshToken(ctx, refresh)
		assert.NoError(t, err, "refresh token stays valid without a denylist")
	})

	t.Run("with denylist", func(t *testing.T) {
		denylist := newMemoryStore(t, clock)
		store := stateless.New(strategy, denylist, nil)

		require.NoError(t, store.DeleteRefreshToken(ctx, refresh))
		_, err := store.GetTokenByRefreshToken(ctx, refresh)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)

		revoked, err := denylist.IsRevoked(ctx, refresh)
		require.NoError(t, err)
		assert.True(t, revoked)

		clock.Advance(25 * time.Hour)
		revoked, err = denylist.IsRevoked(ctx, refresh)
		require.NoError(t, err)
		assert.False(t, revoked, "denylist entry lapses when the token would have expired")
	})

	t.Run("invalid token", func(t *testing.T) {
		store := stateless.New(strategy, newMemoryStore(t, clock), nil)
		assert.NoError(t, store.DeleteRefreshToken(ctx, "garbage"))
	})
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	strategy := newStrategy(t, clock)
	ctx := context.Background()

	refresh, err := strategy.RefreshGenerate(tokengen.Params{ClientID: "abc", UserID: "u", Scopes: []string{"read"}})
	require.NoError(t, err)

	t.Run("with denylist", func(t *testing.T) {
		store := stateless.New(strategy, newMemoryStore(t, clock), nil)

		got, err := store.ConsumeRefreshToken(ctx, refresh)
		require.NoError(t, err)
		assert.Equal(t, "u", got.UserID)
		assert.Equal(t, []string{"read"}, got.Scopes)

		_, err = store.ConsumeRefreshToken(ctx, refresh)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
		_, err = store.GetTokenByRefreshToken(ctx, refresh)
		assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
	})

	t.Run("concurrent", func(t *testing.T) {
		store := stateless.New(strategy, newMemoryStore(t, clock), nil)

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.ConsumeRefreshToken(ctx, refresh); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("without denylist", func(t *testing.T) {
		store := stateless.New(strategy, nil, nil)
		_, err := store.ConsumeRefreshToken(ctx, refresh)
		require.NoError(t, err)
		_, err = store.ConsumeRefreshToken(ctx, refresh)
		assert.NoError(t, err, "nothing records the use without a denylist")
	})

	t.Run("invalid token", func(t *testing.T) {
		store := stateless.New(strategy, newMemoryStore(t, clock), nil)
		_, err := store.ConsumeRefreshToken(ctx, "garbage")
		assert.Error(t, err)
	})
}

func TestStore_GetExistingToken(t *testing.T) {
	store := stateless.New(newStrategy(t, testutil.NewMockTime(time.Now())), nil, nil)
	_, err := store.GetExistingToken(context.Background(), "abc", "password", "u")
	assert.ErrorIs(t, err, storage.ErrAccessTokenNotFound)
}

type passwordAdapter struct{}

func (passwordAdapter) Authenticate(_ context.Context, req *oauth.Request, _ []string, _ *storage.Client) (*oauth.Identity, error) {
	if req.PostParam("username") == "foo" && req.PostParam("password") == "bar" {
		return &oauth.Identity{UserID: "foo"}, nil
	}
	return nil, oauth.ErrUserNotAuthenticated
}

func TestStore_WithProvider(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	strategy := newStrategy(t, clock)
	denylist := newMemoryStore(t, clock)
	tokens := stateless.New(strategy, denylist, nil)

	clients := newMemoryStore(t, clock)
	ctx := context.Background()
	require.NoError(t, clients.SaveClient(ctx, &storage.Client{
		ClientID:     "abc",
		Secret:       storage.LiteralSecret("xyz"),
		RedirectURIs: []string{"https://cb"},
	}))

	generator := tokengen.New(strategy,
		tokengen.WithExpiresIn(map[string]int64{oauth.GrantTypePassword: 3600}),
		tokengen.WithRefreshExpiresIn(86400),
	)
	provider, err := oauth.NewProvider(oauth.Config{Clock: clock.Now}, clients, clients, tokens, generator)
	require.NoError(t, err)
	require.NoError(t, provider.AddGrant(oauth.NewResourceOwnerGrant(passwordAdapter{})))
	require.NoError(t, provider.AddGrant(oauth.NewRefreshTokenGrant(oauth.WithReissueRefreshTokens())))

	post := func(form url.Values) map[string]any {
		t.Helper()
		form.Set("client_id", "abc")
		form.Set("client_secret", "xyz")
		resp, err := provider.Dispatch(ctx, &oauth.Request{
			Method: http.MethodPost,
			Path:   "/token",
			Query:  url.Values{},
			Form:   form,
			Header: http.Header{},
		})
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(resp.Body, &body))
		body["status"] = resp.StatusCode
		return body
	}

	issued := post(url.Values{"grant_type": {"password"}, "username": {"foo"}, "password": {"bar"}})
	require.Equal(t, http.StatusOK, issued["status"], issued)
	access := issued["access_token"].(string)
	refresh := issued["refresh_token"].(string)

	token, err := provider.ValidateAccessToken(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, "foo", token.UserID)

	refreshed := post(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusOK, refreshed["status"], refreshed)
	assert.NotEqual(t, refresh, refreshed["refresh_token"])

	replayed := post(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	assert.Equal(t, http.StatusBadRequest, replayed["status"])
	assert.Equal(t, "invalid_grant", replayed["error"])
}
