// Package ginweb mounts an oauth.Provider on a gin router.
package ginweb

import (
	"net/http"

	"github.com/gin-gonic/gin"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/web"
)

// Handler returns a gin handler serving every provider endpoint. It can be
// registered on any route; the provider routes by request path.
func Handler(provider *oauth.Provider, opts web.Options) gin.HandlerFunc {
	h := web.NewHandler(provider, opts)
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}

// Register adds GET and POST routes for the provider's endpoints
func Register(routes gin.IRoutes, provider *oauth.Provider, opts web.Options) {
	handler := Handler(provider, opts)
	for _, path := range provider.Paths() {
		routes.GET(path, handler)
		routes.POST(path, handler)
	}
}

// RequestID assigns each request an ID the way security.RequestIDMiddleware
// does for net/http servers
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		var next http.Handler = http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})
		security.RequestIDMiddleware(next).ServeHTTP(c.Writer, c.Request)
	}
}
