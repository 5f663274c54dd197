package ginweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/storage/memory"
	"github.com/giantswarm/oauth2-stateless/tokengen"
	"github.com/giantswarm/oauth2-stateless/web"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	t.Cleanup(store.Stop)
	require.NoError(t, store.SaveClient(context.Background(), &storage.Client{
		ClientID: "abc",
		Secret:   storage.LiteralSecret("xyz"),
	}))

	provider, err := oauth.NewProvider(oauth.Config{TokenPath: "/oauth/token"}, store, store, store,
		tokengen.New(nil, tokengen.WithExpiresIn(map[string]int64{oauth.GrantTypeClientCredentials: 60})))
	require.NoError(t, err)
	require.NoError(t, provider.AddGrant(oauth.NewClientCredentialsGrant()))

	router := gin.New()
	router.Use(RequestID())
	Register(router, provider, web.Options{})
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return router
}

func TestRegister_Token(t *testing.T) {
	router := newRouter(t)

	form := url.Values{"grant_type": {"client_credentials"}, "client_id": {"abc"}, "client_secret": {"xyz"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get(security.RequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, float64(60), body["expires_in"])
}

func TestRegister_AuthorizeWithoutGrant(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/authorize?response_type=code&client_id=abc", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), oauth.ErrorCodeUnsupportedResponseType)
}

func TestRegister_OtherRoutesUntouched(t *testing.T) {
	router := newRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ok", recorder.Body.String())

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/token", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code, "token endpoint moved to /oauth/token")
}
