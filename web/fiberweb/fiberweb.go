// Package fiberweb mounts an oauth.Provider on a fiber app.
package fiberweb

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/web"
)

// Handler returns a fiber handler serving every provider endpoint. Paths the
// provider does not handle are passed on with c.Next.
func Handler(provider *oauth.Provider, opts web.Options) fiber.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		if !provider.Handles(c.Path()) {
			return c.Next()
		}

		requestID := security.RequestIDFrom(c.Get(security.RequestIDHeader))
		c.Set(security.RequestIDHeader, requestID)
		ctx := security.WithRequestID(c.UserContext(), requestID)

		req, err := NewRequest(c, opts)
		if err != nil {
			return writeResponse(c, oauth.InvalidRequestResponse(err.Error()))
		}

		resp, err := provider.Dispatch(ctx, req)
		if err != nil {
			logger.Error("OAuth request failed", "path", c.Path(), "request_id", requestID, "error", err)
			resp = oauth.ServerErrorResponse()
		}
		return writeResponse(c, resp)
	}
}

// Register adds GET and POST routes for the provider's endpoints
func Register(router fiber.Router, provider *oauth.Provider, opts web.Options) {
	handler := Handler(provider, opts)
	for _, path := range provider.Paths() {
		router.Get(path, handler)
		router.Post(path, handler)
	}
}

// NewRequest translates a fiber request. fasthttp has already buffered the
// body, so only the size limit is enforced here.
func NewRequest(c *fiber.Ctx, opts web.Options) (*oauth.Request, error) {
	body := c.Body()
	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = web.DefaultMaxBodyBytes
	}
	if int64(len(body)) > limit {
		return nil, errors.New("request body too large")
	}

	form, err := oauth.ParseBody(c.Get(fiber.HeaderContentType), body)
	if err != nil {
		return nil, errors.New("malformed request body")
	}

	query, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return nil, errors.New("malformed query string")
	}

	header := make(http.Header)
	for key, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	// ClientIP works on net/http requests; hand it the parts it reads
	remote := &http.Request{Header: header, RemoteAddr: c.Context().RemoteAddr().String()}

	return &oauth.Request{
		Method:     c.Method(),
		Path:       c.Path(),
		Query:      query,
		Form:       form,
		Header:     header,
		RemoteAddr: security.ClientIP(remote, opts.TrustProxy, opts.TrustedProxyCount),
	}, nil
}

func writeResponse(c *fiber.Ctx, resp *oauth.Response) error {
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	security.SetSecurityHeaders(header, c.Protocol() == "https")
	for key, values := range header {
		c.Response().Header.Del(key)
		for _, v := range values {
			c.Response().Header.Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	return c.Send(resp.Body)
}
