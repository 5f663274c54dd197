package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// Grant types and response types understood by the built-in grants
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeImplicit          = "implicit"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"

	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// TokenRequest is a token endpoint request whose client is already authenticated
type TokenRequest struct {
	*Request
	Client *storage.Client
}

// AuthorizeRequest is an authorization endpoint request whose client and
// redirect URI have been validated
type AuthorizeRequest struct {
	*Request
	Client      *storage.Client
	RedirectURI string
	State       string
}

// TokenGrant handles a grant_type at the token endpoint. Protocol failures are
// returned as *OAuthError; any other error is fatal.
type TokenGrant interface {
	GrantType() string
	Token(ctx context.Context, iss *Issuer, req *TokenRequest) (*Response, error)
}

// AuthorizeGrant handles a response_type at the authorization endpoint
type AuthorizeGrant interface {
	ResponseType() string
	Authorize(ctx context.Context, iss *Issuer, req *AuthorizeRequest) (*Response, error)
}

// GrantOption configures a grant
type GrantOption func(*grantOptions)

type grantOptions struct {
	scopes         ScopePolicy
	reissueRefresh bool
}

// WithScopes restricts the scopes a grant hands out. defaults are granted
// when the request names no scope.
func WithScopes(available []string, defaults ...string) GrantOption {
	return func(o *grantOptions) {
		o.scopes = ScopePolicy{Available: available, Default: defaults}
	}
}

// WithReissueRefreshTokens makes the refresh token grant rotate refresh
// tokens on every exchange
func WithReissueRefreshTokens() GrantOption {
	return func(o *grantOptions) {
		o.reissueRefresh = true
	}
}

func applyGrantOptions(opts []GrantOption) grantOptions {
	var o grantOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// authorizeResourceOwner runs the site adapter part shared by the redirect
// based grants. It returns either an identity or a page to render.
func authorizeResourceOwner(ctx context.Context, iss *Issuer, adapter AuthorizeSiteAdapter, req *AuthorizeRequest, policy ScopePolicy, fragment bool) (*Identity, []string, *Response, error) {
	responseType := req.Param("response_type")

	scopes, oerr := policy.Resolve(req.Param("scope"))
	if oerr != nil {
		return nil, nil, nil, oerr.WithRedirect(req.RedirectURI, req.State, fragment)
	}

	if adapter.UserHasDeniedAccess(ctx, req.Request) {
		iss.auditor.LogAccessDenied(ctx, req.Client.ClientID, req.RemoteAddr, responseType)
		return nil, nil, nil, ErrAccessDenied("the resource owner denied the request").
			WithRedirect(req.RedirectURI, req.State, fragment)
	}

	identity, err := adapter.Authenticate(ctx, req.Request, scopes, req.Client)
	if errors.Is(err, ErrUserNotAuthenticated) {
		if renderer, ok := adapter.(ConfirmationRenderer); ok {
			page, err := renderer.RenderAuthPage(ctx, req.Request, scopes, req.Client)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to render authorization page: %w", err)
			}
			return nil, nil, page, nil
		}
		iss.auditor.LogUserAuthFailure(ctx, req.Client.ClientID, req.RemoteAddr, responseType)
		return nil, nil, nil, ErrAccessDenied("the resource owner could not be authenticated").
			WithRedirect(req.RedirectURI, req.State, fragment)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("site adapter authentication failed: %w", err)
	}
	if identity == nil {
		identity = &Identity{}
	}
	return identity, scopes, nil, nil
}
