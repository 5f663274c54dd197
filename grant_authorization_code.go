package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// AuthorizationCodeGrant implements the two phase authorization code flow
// (RFC 6749 section 4.1).
type AuthorizationCodeGrant struct {
	adapter AuthorizeSiteAdapter
	opts    grantOptions
}

// NewAuthorizationCodeGrant creates the grant around a site adapter
func NewAuthorizationCodeGrant(adapter AuthorizeSiteAdapter, opts ...GrantOption) *AuthorizationCodeGrant {
	return &AuthorizationCodeGrant{adapter: adapter, opts: applyGrantOptions(opts)}
}

// ResponseType implements AuthorizeGrant
func (g *AuthorizationCodeGrant) ResponseType() string { return ResponseTypeCode }

// GrantType implements TokenGrant
func (g *AuthorizationCodeGrant) GrantType() string { return GrantTypeAuthorizationCode }

// Authorize authenticates the resource owner and redirects back with a code
func (g *AuthorizationCodeGrant) Authorize(ctx context.Context, iss *Issuer, req *AuthorizeRequest) (*Response, error) {
	identity, scopes, page, err := authorizeResourceOwner(ctx, iss, g.adapter, req, g.opts.scopes, false)
	if err != nil || page != nil {
		return page, err
	}

	code, err := iss.IssueCode(ctx, req.Client.ClientID, req.RedirectURI, scopes, identity)
	if err != nil {
		return nil, err
	}

	location, err := buildRedirect(req.RedirectURI, codeRedirect{Code: code.Code, State: req.State}, false)
	if err != nil {
		return nil, err
	}
	return redirectResponse(location), nil
}

// Token exchanges a code for an access token. The code is consumed before
// it is checked so a code can never be redeemed twice.
func (g *AuthorizationCodeGrant) Token(ctx context.Context, iss *Issuer, req *TokenRequest) (*Response, error) {
	value := req.PostParam("code")
	if value == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	redirectURI := req.PostParam("redirect_uri")

	code, err := iss.ConsumeCode(ctx, value)
	if errors.Is(err, storage.ErrAuthCodeNotFound) {
		iss.auditor.LogCodeRejected(ctx, req.Client.ClientID, req.RemoteAddr, "not_found")
		return nil, ErrInvalidGrant("authorization code is invalid or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if code.IsExpired(iss.Now()) {
		iss.auditor.LogCodeRejected(ctx, req.Client.ClientID, req.RemoteAddr, "expired")
		return nil, ErrInvalidGrant("authorization code is invalid or expired")
	}
	if code.ClientID != req.Client.ClientID {
		iss.auditor.LogCodeRejected(ctx, req.Client.ClientID, req.RemoteAddr, "client_mismatch")
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	}
	if !redirectMatches(code.RedirectURI, redirectURI, req.Client) {
		iss.auditor.LogCodeRejected(ctx, req.Client.ClientID, req.RemoteAddr, "redirect_mismatch")
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	token, err := iss.IssueToken(ctx, TokenParams{
		GrantType: GrantTypeAuthorizationCode,
		ClientID:  code.ClientID,
		UserID:    code.UserID,
		Scopes:    code.Scopes,
		Data:      code.Data,
	})
	if err != nil {
		return nil, err
	}
	return iss.tokenResponse(token, true)
}

// redirectMatches compares the token request's redirect_uri with the one
// bound to the code. An omitted value is accepted only when the client has
// a single registered URI, which is then the one the code was bound to.
func redirectMatches(bound, presented string, client *storage.Client) bool {
	if presented != "" {
		return presented == bound
	}
	return len(client.RedirectURIs) == 1 && client.RedirectURIs[0] == bound
}
