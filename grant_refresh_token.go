package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// RefreshTokenGrant exchanges a refresh token for a new access token
// (RFC 6749 section 6). The new token keeps the user, client, grant type and
// data of the original.
type RefreshTokenGrant struct {
	opts grantOptions
}

// NewRefreshTokenGrant creates the grant. Use WithReissueRefreshTokens to
// rotate refresh tokens.
func NewRefreshTokenGrant(opts ...GrantOption) *RefreshTokenGrant {
	return &RefreshTokenGrant{opts: applyGrantOptions(opts)}
}

// GrantType implements TokenGrant
func (g *RefreshTokenGrant) GrantType() string { return GrantTypeRefreshToken }

// Token implements TokenGrant
func (g *RefreshTokenGrant) Token(ctx context.Context, iss *Issuer, req *TokenRequest) (*Response, error) {
	refresh := req.PostParam("refresh_token")
	if refresh == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	original, err := iss.tokens.GetTokenByRefreshToken(ctx, refresh)
	if errors.Is(err, storage.ErrAccessTokenNotFound) {
		return nil, ErrInvalidGrant("refresh token is invalid or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if original.IsRefreshExpired(iss.Now()) {
		return nil, ErrInvalidGrant("refresh token is invalid or expired")
	}
	if original.ClientID != req.Client.ClientID {
		return nil, ErrInvalidGrant("refresh token was issued to another client")
	}

	scopes := original.Scopes
	if requested := ParseScope(req.PostParam("scope")); len(requested) > 0 {
		if !isSubset(requested, original.Scopes) {
			iss.auditor.LogScopeEscalation(ctx, original.UserID, original.ClientID, req.RemoteAddr, requested, original.Scopes)
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	params := TokenParams{
		GrantType: original.GrantType,
		ClientID:  original.ClientID,
		UserID:    original.UserID,
		Scopes:    scopes,
		Data:      original.Data,
		Fresh:     true,
	}
	if g.opts.reissueRefresh {
		// Of concurrent rotations of one refresh token only the request
		// that consumes it may issue.
		_, err := iss.tokens.ConsumeRefreshToken(ctx, refresh)
		if errors.Is(err, storage.ErrAccessTokenNotFound) {
			return nil, ErrInvalidGrant("refresh token is invalid or expired")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to consume refresh token: %w", err)
		}
	} else {
		params.KeepRefreshToken = refresh
		params.KeepRefreshExpiresAt = original.RefreshExpiresAt
	}

	token, err := iss.IssueToken(ctx, params)
	if err != nil {
		return nil, err
	}
	iss.recordRefresh(ctx, token, g.opts.reissueRefresh)

	return iss.tokenResponse(token, g.opts.reissueRefresh)
}
