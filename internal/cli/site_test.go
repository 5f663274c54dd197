package cli

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
)

func newTestSite(t *testing.T) *Site {
	t.Helper()
	hash, err := storage.HashSecret("wonderland")
	require.NoError(t, err)

	users := []UserConfig{{Username: "alice", PasswordHash: hash.Hash(), Data: map[string]any{"tenant": "acme"}}}
	return NewSite(users, "/authorize", security.NewAuditor(slog.New(slog.DiscardHandler), true))
}

func siteRequest(method, path string, form url.Values) *oauth.Request {
	return &oauth.Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Form:   form,
		Header: http.Header{},
	}
}

var testClient = &storage.Client{ClientID: "abc"}

func TestSite_AuthenticateOnTokenEndpoint(t *testing.T) {
	site := newTestSite(t)
	ctx := context.Background()

	identity, err := site.Authenticate(ctx, siteRequest(http.MethodPost, "/token", url.Values{
		"username": {"alice"},
		"password": {"wonderland"},
	}), nil, testClient)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "acme", identity.Data["tenant"])

	for name, form := range map[string]url.Values{
		"wrong password": {"username": {"alice"}, "password": {"guess"}},
		"unknown user":   {"username": {"bob"}, "password": {"wonderland"}},
		"no username":    {"password": {"wonderland"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := site.Authenticate(ctx, siteRequest(http.MethodPost, "/token", form), nil, testClient)
			assert.ErrorIs(t, err, oauth.ErrUserNotAuthenticated)
		})
	}
}

func TestSite_AuthorizeNeedsApproval(t *testing.T) {
	site := newTestSite(t)
	ctx := context.Background()
	credentials := url.Values{"username": {"alice"}, "password": {"wonderland"}}

	_, err := site.Authenticate(ctx, siteRequest(http.MethodGet, "/authorize", nil), nil, testClient)
	assert.ErrorIs(t, err, oauth.ErrUserNotAuthenticated)

	_, err = site.Authenticate(ctx, siteRequest(http.MethodPost, "/authorize", credentials), nil, testClient)
	assert.ErrorIs(t, err, oauth.ErrUserNotAuthenticated, "credentials alone do not approve the client")

	credentials.Set("decision", "allow")
	identity, err := site.Authenticate(ctx, siteRequest(http.MethodPost, "/authorize", credentials), nil, testClient)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
}

func TestSite_UserHasDeniedAccess(t *testing.T) {
	site := newTestSite(t)
	ctx := context.Background()

	assert.True(t, site.UserHasDeniedAccess(ctx, siteRequest(http.MethodPost, "/authorize", url.Values{"decision": {"deny"}})))
	assert.False(t, site.UserHasDeniedAccess(ctx, siteRequest(http.MethodPost, "/authorize", url.Values{"decision": {"allow"}})))
	assert.False(t, site.UserHasDeniedAccess(ctx, siteRequest(http.MethodGet, "/authorize", nil)))
}

func TestSite_RenderAuthPage(t *testing.T) {
	site := newTestSite(t)
	ctx := context.Background()

	req := siteRequest(http.MethodGet, "/authorize", nil)
	req.Query = url.Values{
		"response_type": {"code"},
		"client_id":     {"abc"},
		"state":         {`"><script>`},
		"nonce":         {"dropped"},
	}
	resp, err := site.RenderAuthPage(ctx, req, []string{"read", "write"}, testClient)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	page := string(resp.Body)
	assert.Contains(t, page, `action="/authorize"`)
	assert.Contains(t, page, `name="response_type" value="code"`)
	assert.Contains(t, page, "<li>write</li>")
	assert.NotContains(t, page, "<script>", "parameters are escaped")
	assert.NotContains(t, page, "dropped")
	assert.NotContains(t, page, "Invalid username or password")

	failed := siteRequest(http.MethodPost, "/authorize", url.Values{"username": {"alice"}, "password": {"nope"}})
	resp, err = site.RenderAuthPage(ctx, failed, nil, testClient)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "Invalid username or password")
}
