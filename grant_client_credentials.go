package oauth

import (
	"context"
)

// ClientCredentialsGrant issues tokens to the client itself (RFC 6749
// section 4.4). No refresh token is issued.
type ClientCredentialsGrant struct {
	opts grantOptions
}

// NewClientCredentialsGrant creates the grant
func NewClientCredentialsGrant(opts ...GrantOption) *ClientCredentialsGrant {
	return &ClientCredentialsGrant{opts: applyGrantOptions(opts)}
}

// GrantType implements TokenGrant
func (g *ClientCredentialsGrant) GrantType() string { return GrantTypeClientCredentials }

// Token implements TokenGrant
func (g *ClientCredentialsGrant) Token(ctx context.Context, iss *Issuer, req *TokenRequest) (*Response, error) {
	scopes, oerr := g.opts.scopes.Resolve(req.PostParam("scope"))
	if oerr != nil {
		return nil, oerr
	}

	token, err := iss.IssueToken(ctx, TokenParams{
		GrantType: GrantTypeClientCredentials,
		ClientID:  req.Client.ClientID,
		Scopes:    scopes,
		NoRefresh: true,
	})
	if err != nil {
		return nil, err
	}
	return iss.tokenResponse(token, false)
}
