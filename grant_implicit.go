package oauth

import (
	"context"
)

// ImplicitGrant issues an access token straight into the redirect fragment
// (RFC 6749 section 4.2). It never issues refresh tokens.
type ImplicitGrant struct {
	adapter AuthorizeSiteAdapter
	opts    grantOptions
}

// NewImplicitGrant creates the grant around a site adapter
func NewImplicitGrant(adapter AuthorizeSiteAdapter, opts ...GrantOption) *ImplicitGrant {
	return &ImplicitGrant{adapter: adapter, opts: applyGrantOptions(opts)}
}

// ResponseType implements AuthorizeGrant
func (g *ImplicitGrant) ResponseType() string { return ResponseTypeToken }

// Authorize implements AuthorizeGrant
func (g *ImplicitGrant) Authorize(ctx context.Context, iss *Issuer, req *AuthorizeRequest) (*Response, error) {
	identity, scopes, page, err := authorizeResourceOwner(ctx, iss, g.adapter, req, g.opts.scopes, true)
	if err != nil || page != nil {
		return page, err
	}

	token, err := iss.IssueToken(ctx, TokenParams{
		GrantType: GrantTypeImplicit,
		ClientID:  req.Client.ClientID,
		UserID:    identity.UserID,
		Scopes:    scopes,
		Data:      identity.Data,
		NoRefresh: true,
	})
	if err != nil {
		return nil, err
	}

	location, err := buildRedirect(req.RedirectURI, implicitRedirect{
		AccessToken: token.Token,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn(iss.Now()),
		Scope:       token.Scope(),
		State:       req.State,
	}, true)
	if err != nil {
		return nil, err
	}
	return redirectResponse(location), nil
}
