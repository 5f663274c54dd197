package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/internal/util"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/tokengen"
)

// Endpoint names used for metrics and spans
const (
	endpointAuthorize = "authorize"
	endpointToken     = "token"
	endpointRevoke    = "revoke"
	endpointUnknown   = "unknown"
)

// Provider routes requests to grants and turns their protocol errors into
// responses. It holds only configuration and is safe for concurrent use.
type Provider struct {
	config  Config
	clients storage.ClientStore
	issuer  *Issuer

	authorizeGrants map[string]AuthorizeGrant
	tokenGrants     map[string]TokenGrant

	logger  *slog.Logger
	auditor *security.Auditor
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewProvider creates a provider. Grants are registered with AddGrant before
// the provider serves requests.
func NewProvider(config Config, clients storage.ClientStore, codes storage.AuthCodeStore, tokens storage.AccessTokenStore, generator *tokengen.Generator) (*Provider, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	if clients == nil || codes == nil || tokens == nil {
		return nil, errors.New("client, code and token stores are required")
	}
	if generator == nil {
		generator = tokengen.New(nil)
	}

	p := &Provider{
		config:          config,
		clients:         clients,
		authorizeGrants: make(map[string]AuthorizeGrant),
		tokenGrants:     make(map[string]TokenGrant),
		logger:          config.Logger,
		auditor:         config.Auditor,
	}

	if config.Instrumentation != nil {
		p.tracer = config.Instrumentation.Tracer("provider")
		p.metrics = config.Instrumentation.Metrics()
	}

	p.issuer = &Issuer{
		codes:       codes,
		tokens:      tokens,
		generator:   generator,
		uniqueToken: config.UniqueToken,
		codeTTL:     config.AuthorizationCodeTTL,
		now:         config.Clock,
		logger:      config.Logger,
		auditor:     config.Auditor,
		metrics:     p.metrics,
	}

	return p, nil
}

// AddGrant registers a grant. It must implement TokenGrant, AuthorizeGrant or
// both; a later grant replaces an earlier one with the same discriminator.
func (p *Provider) AddGrant(grant any) error {
	registered := false
	if g, ok := grant.(AuthorizeGrant); ok {
		p.authorizeGrants[g.ResponseType()] = g
		registered = true
	}
	if g, ok := grant.(TokenGrant); ok {
		p.tokenGrants[g.GrantType()] = g
		registered = true
	}
	if !registered {
		return fmt.Errorf("%T implements neither TokenGrant nor AuthorizeGrant", grant)
	}
	return nil
}

// Issuer returns the shared issuer, for site code that mints tokens outside
// a grant flow
func (p *Provider) Issuer() *Issuer {
	return p.issuer
}

// Handles reports whether Dispatch serves path. Front-ends use it to fall
// through to their own routes.
func (p *Provider) Handles(path string) bool {
	return p.endpoint(path) != endpointUnknown
}

// Paths returns the configured endpoint paths, for routers that register
// routes explicitly
func (p *Provider) Paths() []string {
	paths := []string{p.config.AuthorizePath, p.config.TokenPath}
	if p.config.RevokePath != "" {
		paths = append(paths, p.config.RevokePath)
	}
	return paths
}

func (p *Provider) endpoint(path string) string {
	switch {
	case path == p.config.AuthorizePath:
		return endpointAuthorize
	case path == p.config.TokenPath:
		return endpointToken
	case p.config.RevokePath != "" && path == p.config.RevokePath:
		return endpointRevoke
	}
	return endpointUnknown
}

// Dispatch processes one request. Protocol errors become error responses;
// the returned error is reserved for failures of the server itself, which
// callers should answer with a 500.
func (p *Provider) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	endpoint := p.endpoint(req.Path)

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "oauth."+endpoint,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String(instrumentation.AttrHTTPEndpoint, endpoint)))
		defer span.End()
	}

	var (
		resp *Response
		err  error
	)
	switch endpoint {
	case endpointAuthorize:
		resp, err = p.authorize(ctx, req)
	case endpointToken:
		resp, err = p.token(ctx, req)
	case endpointRevoke:
		resp, err = p.revoke(ctx, req)
	default:
		resp, err = jsonResponse(http.StatusNotFound, ErrorResponse{Error: "not_found", ErrorDescription: "unknown endpoint"})
	}

	var oerr *OAuthError
	if errors.As(err, &oerr) {
		instrumentation.SetSpanError(span, oerr.Code)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oerr.Code))
		if p.metrics != nil {
			p.metrics.RecordError(ctx, endpoint, oerr.Code)
		}
		p.logger.Debug("OAuth error response",
			"endpoint", endpoint,
			"error", oerr.Code,
			"description", oerr.Description)
		resp, err = p.errorResponse(oerr)
	}
	if err == nil && resp == nil {
		err = errors.New("grant returned no response")
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		p.logger.Error("OAuth request failed", "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("%s endpoint: %w", endpoint, err)
	}

	instrumentation.AddHTTPAttributes(span, req.Method, endpoint, resp.StatusCode)
	if p.metrics != nil {
		p.metrics.RecordRequest(ctx, endpoint, resp.StatusCode, float64(time.Since(start).Microseconds())/1000)
	}
	return resp, nil
}

// errorResponse is the only place an OAuthError becomes a Response
func (p *Provider) errorResponse(oerr *OAuthError) (*Response, error) {
	if oerr.redirectURI != "" {
		location, err := buildRedirect(oerr.redirectURI, errorRedirect{
			Error:            oerr.Code,
			ErrorDescription: oerr.Description,
			State:            oerr.state,
		}, oerr.fragment)
		if err != nil {
			return nil, err
		}
		return redirectResponse(location), nil
	}

	status := oerr.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	resp, err := jsonResponse(status, ErrorResponse{Error: oerr.Code, ErrorDescription: oerr.Description})
	if err != nil {
		return nil, err
	}
	if oerr.Code == ErrorCodeInvalidClient {
		resp.Header.Set("WWW-Authenticate", `Basic realm="oauth2"`)
	} else if oerr.Code == ErrorCodeInvalidToken {
		resp.Header.Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	return resp, nil
}

// authorize validates the client and redirect URI, then hands off to the
// grant registered for response_type. Until the redirect URI is trusted,
// errors are rendered as a body and never redirected.
func (p *Provider) authorize(ctx context.Context, req *Request) (*Response, error) {
	responseType := req.Param("response_type")
	if responseType == "" {
		return nil, ErrInvalidRequest("response_type is required")
	}
	span := trace.SpanFromContext(ctx)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, responseType))
	grant, ok := p.authorizeGrants[responseType]
	if !ok {
		return nil, ErrUnsupportedResponseType("response_type " + responseType + " is not supported")
	}

	clientID := req.Param("client_id")
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")
	client, err := p.clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		return nil, ErrInvalidRequest("unknown client")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	redirectURI := req.Param("redirect_uri")
	switch {
	case redirectURI == "" && len(client.RedirectURIs) == 1:
		redirectURI = client.RedirectURIs[0]
	case redirectURI == "":
		return nil, ErrInvalidRequest("redirect_uri is required")
	case !client.RedirectURIAllowed(redirectURI):
		p.auditor.LogInvalidRedirect(ctx, clientID, req.RemoteAddr, redirectURI)
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	state := req.Param("state")
	if !client.ResponseTypeAllowed(responseType) {
		return nil, ErrUnauthorizedClient("client may not use response_type "+responseType).
			WithRedirect(redirectURI, state, responseType == ResponseTypeToken)
	}

	return grant.Authorize(ctx, p.issuer, &AuthorizeRequest{
		Request:     req,
		Client:      client,
		RedirectURI: redirectURI,
		State:       state,
	})
}

// token selects the grant, authenticates the client and runs the exchange
func (p *Provider) token(ctx context.Context, req *Request) (*Response, error) {
	if req.Method != http.MethodPost {
		return nil, ErrInvalidRequest("token endpoint requires POST")
	}

	grantType := req.PostParam("grant_type")
	if grantType == "" {
		return nil, ErrInvalidRequest("grant_type is required")
	}
	span := trace.SpanFromContext(ctx)
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))
	grant, ok := p.tokenGrants[grantType]
	if !ok {
		return nil, ErrUnsupportedGrantType("grant_type " + grantType + " is not supported")
	}

	client, err := p.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", "")
	if !client.GrantAllowed(grantType) {
		return nil, ErrUnauthorizedClient("client may not use grant_type " + grantType)
	}

	return grant.Token(ctx, p.issuer, &TokenRequest{Request: req, Client: client})
}

// revoke implements RFC 7009 for refresh tokens. Unknown tokens are
// answered with 200 so revocation cannot reveal whether a token exists.
func (p *Provider) revoke(ctx context.Context, req *Request) (*Response, error) {
	if req.Method != http.MethodPost {
		return nil, ErrInvalidRequest("revocation endpoint requires POST")
	}
	client, err := p.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}

	value := req.PostParam("token")
	if value == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	tokens := p.issuer.tokens
	token, err := tokens.GetTokenByRefreshToken(ctx, value)
	if errors.Is(err, storage.ErrAccessTokenNotFound) {
		// The value may be an access token; revoke the refresh token it carries.
		token, err = tokens.GetToken(ctx, value)
	}
	if errors.Is(err, storage.ErrAccessTokenNotFound) {
		p.logger.Debug("Revocation of unknown token", "client_id", client.ClientID, "token", util.SafeTruncate(value, 8))
		return NewResponse(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if token.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("token was not issued to this client")
	}
	if token.RefreshToken == "" {
		return NewResponse(), nil
	}

	if err := tokens.DeleteRefreshToken(ctx, token.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	instrumentation.AddOAuthFlowAttributes(trace.SpanFromContext(ctx), token.ClientID, token.UserID, "")
	p.auditor.LogTokenRevoked(ctx, token.UserID, token.ClientID, GrantTypeRefreshToken)
	if p.metrics != nil {
		p.metrics.RecordTokenRevoked(ctx)
	}
	return NewResponse(), nil
}

// authenticateClient checks HTTP Basic credentials, falling back to
// client_id and client_secret in the body (RFC 6749 section 2.3.1)
func (p *Provider) authenticateClient(ctx context.Context, req *Request) (*storage.Client, error) {
	clientID, secret, ok := parseBasicAuth(req.HeaderValue("Authorization"))
	if !ok {
		clientID = req.PostParam("client_id")
		secret = req.PostParam("client_secret")
	}
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication is required")
	}

	client, err := p.clients.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		p.auditor.LogClientAuthFailure(ctx, clientID, req.RemoteAddr, "unknown_client")
		return nil, ErrInvalidClient("client authentication failed")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if !client.VerifySecret(secret) {
		p.auditor.LogClientAuthFailure(ctx, clientID, req.RemoteAddr, "secret_mismatch")
		return nil, ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// parseBasicAuth decodes an HTTP Basic header. Credentials are form-encoded
// before base64 per RFC 6749 section 2.3.1.
func parseBasicAuth(header string) (clientID, secret string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	rawID, rawSecret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	if clientID, err = url.QueryUnescape(rawID); err != nil {
		return "", "", false
	}
	if secret, err = url.QueryUnescape(rawSecret); err != nil {
		return "", "", false
	}
	return clientID, secret, true
}

// ValidateAccessToken looks up a bearer token for a resource server.
// Missing, expired and revoked tokens yield an invalid_token OAuthError.
func (p *Provider) ValidateAccessToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken("access token is required")
	}
	token, err := p.issuer.tokens.GetToken(ctx, accessToken)
	if errors.Is(err, storage.ErrAccessTokenNotFound) {
		return nil, ErrInvalidToken("access token is invalid or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}
	if token.IsExpired(p.issuer.Now()) {
		return nil, ErrInvalidToken("access token is invalid or expired")
	}
	return token, nil
}
