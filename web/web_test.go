package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/storage/memory"
	"github.com/giantswarm/oauth2-stateless/tokengen"
	"github.com/giantswarm/oauth2-stateless/web"
)

func newProvider(t *testing.T) (*oauth.Provider, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	require.NoError(t, store.SaveClient(context.Background(), &storage.Client{
		ClientID:     "abc",
		Secret:       storage.LiteralSecret("xyz"),
		RedirectURIs: []string{"https://cb"},
	}))

	generator := tokengen.New(nil,
		tokengen.WithExpiresIn(map[string]int64{
			oauth.GrantTypePassword:          3600,
			oauth.GrantTypeClientCredentials: 3600,
		}),
		tokengen.WithRefreshExpiresIn(7200),
	)
	provider, err := oauth.NewProvider(oauth.Config{RevokePath: "/revoke"}, store, store, store, generator)
	require.NoError(t, err)

	users := oauth.AuthenticatorFunc(func(_ context.Context, req *oauth.Request, _ []string, _ *storage.Client) (*oauth.Identity, error) {
		if req.PostParam("username") == "foo" && req.PostParam("password") == "bar" {
			return &oauth.Identity{UserID: "foo"}, nil
		}
		return nil, oauth.ErrUserNotAuthenticated
	})
	require.NoError(t, provider.AddGrant(oauth.NewResourceOwnerGrant(users)))
	require.NoError(t, provider.AddGrant(oauth.NewClientCredentialsGrant()))
	require.NoError(t, provider.AddGrant(oauth.NewRefreshTokenGrant()))

	return provider, store
}

func newServer(t *testing.T, next http.Handler) *httptest.Server {
	t.Helper()
	provider, _ := newProvider(t)
	handler := web.NewHandler(provider, web.Options{})
	handler.Next = next
	srv := httptest.NewServer(security.RequestIDMiddleware(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_PasswordGrantWithOAuth2Client(t *testing.T) {
	srv := newServer(t, nil)

	conf := &oauth2.Config{
		ClientID:     "abc",
		ClientSecret: "xyz",
		Endpoint: oauth2.Endpoint{
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	token, err := conf.PasswordCredentialsToken(context.Background(), "foo", "bar")
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.NotEmpty(t, token.RefreshToken)
	assert.Equal(t, "Bearer", token.TokenType)
	assert.False(t, token.Expiry.IsZero())

	_, err = conf.PasswordCredentialsToken(context.Background(), "foo", "wrong")
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, http.StatusBadRequest, retrieveErr.Response.StatusCode)
	assert.Equal(t, oauth.ErrorCodeInvalidGrant, retrieveErr.ErrorCode)
}

func TestHandler_ClientCredentialsWithOAuth2Client(t *testing.T) {
	srv := newServer(t, nil)

	conf := clientcredentials.Config{
		ClientID:     "abc",
		ClientSecret: "xyz",
		TokenURL:     srv.URL + "/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	token, err := conf.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)
	assert.Empty(t, token.RefreshToken, "client credentials tokens are not refreshable")

	conf.ClientSecret = "nope"
	_, err = conf.Token(context.Background())
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, http.StatusUnauthorized, retrieveErr.Response.StatusCode)
	assert.Equal(t, oauth.ErrorCodeInvalidClient, retrieveErr.ErrorCode)
}

func TestHandler_RefreshAndRevoke(t *testing.T) {
	srv := newServer(t, nil)

	issue := func(form url.Values) (*http.Response, map[string]any) {
		t.Helper()
		form.Set("client_id", "abc")
		form.Set("client_secret", "xyz")
		resp, err := http.PostForm(srv.URL+"/token", form)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return resp, body
	}

	resp, body := issue(url.Values{"grant_type": {"password"}, "username": {"foo"}, "password": {"bar"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, refresh)

	resp, body = issue(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])

	revoke, err := http.PostForm(srv.URL+"/revoke", url.Values{
		"client_id":     {"abc"},
		"client_secret": {"xyz"},
		"token":         {refresh},
	})
	require.NoError(t, err)
	revoke.Body.Close()
	assert.Equal(t, http.StatusOK, revoke.StatusCode)

	resp, body = issue(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {refresh}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, oauth.ErrorCodeInvalidGrant, body["error"])
}

func TestHandler_JSONBody(t *testing.T) {
	srv := newServer(t, nil)

	resp, err := http.Post(srv.URL+"/token", "application/json", strings.NewReader(
		`{"grant_type":"client_credentials","client_id":"abc","client_secret":"xyz"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get(security.RequestIDHeader))
}

func TestHandler_MalformedBody(t *testing.T) {
	srv := newServer(t, nil)

	resp, err := http.Post(srv.URL+"/token", "application/json", strings.NewReader(`{"grant_type":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, oauth.ErrorCodeInvalidRequest, body["error"])
}

func TestHandler_UnknownPath(t *testing.T) {
	srv := newServer(t, nil)
	resp, err := http.Get(srv.URL + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv = newServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	resp, err = http.Get(srv.URL + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestNewRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/token?a=1", strings.NewReader("grant_type=password&scope=read"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	r.RemoteAddr = "10.0.0.1:4321"

	req, err := web.NewRequest(r, web.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/token", req.Path)
	assert.Equal(t, "1", req.GetParam("a"))
	assert.Equal(t, "password", req.PostParam("grant_type"))
	assert.Equal(t, "10.0.0.1", req.RemoteAddr, "forwarding headers ignored by default")

	r = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader("grant_type=password"))
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	req, err = web.NewRequest(r, web.Options{TrustProxy: true})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", req.RemoteAddr)

	r = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(strings.Repeat("a", 64)))
	_, err = web.NewRequest(r, web.Options{MaxBodyBytes: 16})
	assert.Error(t, err)
}

func TestWriteResponse(t *testing.T) {
	resp := oauth.NewResponse()
	resp.StatusCode = http.StatusFound
	resp.Header.Set("Location", "https://cb?code=x")

	rec := httptest.NewRecorder()
	web.WriteResponse(rec, resp, true)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cb?code=x", rec.Header().Get("Location"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, rec.Body.String())
}
