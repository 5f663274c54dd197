// Package web serves an oauth.Provider over net/http. The gin and fiber
// adapters in the subpackages share its request translation.
package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	oauth "github.com/giantswarm/oauth2-stateless"
	"github.com/giantswarm/oauth2-stateless/security"
)

// DefaultMaxBodyBytes bounds request bodies read by the adapters
const DefaultMaxBodyBytes int64 = 1 << 20

// Options configures how HTTP requests are translated
type Options struct {
	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// MaxBodyBytes bounds request bodies (default 1MB)
	MaxBodyBytes int64

	// TrustProxy honours X-Forwarded-For and X-Real-IP for the client address
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server
	TrustedProxyCount int
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Handler is an http.Handler for the provider's endpoints. Requests for
// other paths go to Next, or get a 404 when Next is nil.
type Handler struct {
	provider *oauth.Provider
	opts     Options

	// Next serves paths the provider does not handle
	Next http.Handler
}

// NewHandler creates a handler for provider
func NewHandler(provider *oauth.Provider, opts Options) *Handler {
	opts.applyDefaults()
	return &Handler{provider: provider, opts: opts}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.provider.Handles(r.URL.Path) {
		if h.Next != nil {
			h.Next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	req, err := NewRequest(r, h.opts)
	if err != nil {
		h.opts.Logger.Debug("Rejected unreadable request", "path", r.URL.Path, "error", err)
		WriteResponse(w, oauth.InvalidRequestResponse(err.Error()), r.TLS != nil)
		return
	}

	resp, err := h.provider.Dispatch(r.Context(), req)
	if err != nil {
		h.opts.Logger.Error("OAuth request failed",
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		resp = oauth.ServerErrorResponse()
	}
	WriteResponse(w, resp, r.TLS != nil)
}

// NewRequest translates an HTTP request. The body is read up to
// opts.MaxBodyBytes and parsed as a form or JSON object according to its
// Content-Type.
func NewRequest(r *http.Request, opts Options) (*oauth.Request, error) {
	opts.applyDefaults()

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes+1))
		if err != nil {
			return nil, errors.New("failed to read request body")
		}
		if int64(len(body)) > opts.MaxBodyBytes {
			return nil, errors.New("request body too large")
		}
	}

	form, err := oauth.ParseBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, errors.New("malformed request body")
	}

	return &oauth.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Form:       form,
		Header:     r.Header.Clone(),
		RemoteAddr: security.ClientIP(r, opts.TrustProxy, opts.TrustedProxyCount),
	}, nil
}

// WriteResponse copies resp to w, adding the security headers
func WriteResponse(w http.ResponseWriter, resp *oauth.Response, tls bool) {
	h := w.Header()
	for key, values := range resp.Header {
		h[key] = append([]string(nil), values...)
	}
	security.SetSecurityHeaders(h, tls)
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
