package oauth

import (
	"context"
	"errors"
	"fmt"
)

// ResourceOwnerGrant implements the resource owner password credentials flow
// (RFC 6749 section 4.3). The site adapter reads username and password from
// the request.
type ResourceOwnerGrant struct {
	adapter Authenticator
	opts    grantOptions
}

// NewResourceOwnerGrant creates the grant around an authenticator
func NewResourceOwnerGrant(adapter Authenticator, opts ...GrantOption) *ResourceOwnerGrant {
	return &ResourceOwnerGrant{adapter: adapter, opts: applyGrantOptions(opts)}
}

// GrantType implements TokenGrant
func (g *ResourceOwnerGrant) GrantType() string { return GrantTypePassword }

// Token implements TokenGrant
func (g *ResourceOwnerGrant) Token(ctx context.Context, iss *Issuer, req *TokenRequest) (*Response, error) {
	scopes, oerr := g.opts.scopes.Resolve(req.PostParam("scope"))
	if oerr != nil {
		return nil, oerr
	}

	identity, err := g.adapter.Authenticate(ctx, req.Request, scopes, req.Client)
	if errors.Is(err, ErrUserNotAuthenticated) {
		iss.auditor.LogUserAuthFailure(ctx, req.Client.ClientID, req.RemoteAddr, GrantTypePassword)
		return nil, ErrInvalidGrant("invalid resource owner credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("site adapter authentication failed: %w", err)
	}
	if identity == nil {
		identity = &Identity{}
	}

	token, err := iss.IssueToken(ctx, TokenParams{
		GrantType: GrantTypePassword,
		ClientID:  req.Client.ClientID,
		UserID:    identity.UserID,
		Scopes:    scopes,
		Data:      identity.Data,
	})
	if err != nil {
		return nil, err
	}
	return iss.tokenResponse(token, true)
}
