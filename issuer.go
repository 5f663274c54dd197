package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/tokengen"
)

// Issuer bundles what grants need to mint and persist codes and tokens.
// It holds no mutable state and is shared by every grant of a Provider.
type Issuer struct {
	codes       storage.AuthCodeStore
	tokens      storage.AccessTokenStore
	generator   *tokengen.Generator
	uniqueToken bool
	codeTTL     time.Duration
	now         func() time.Time
	logger      *slog.Logger
	auditor     *security.Auditor
	metrics     *instrumentation.Metrics
}

// TokenParams describes an access token to issue
type TokenParams struct {
	GrantType string
	ClientID  string
	UserID    string
	Scopes    []string
	Data      map[string]any

	// NoRefresh suppresses the refresh token even if the grant type has a lifetime
	NoRefresh bool

	// KeepRefreshToken is carried onto the new token instead of generating a
	// fresh refresh token. Used by non-rotating refreshes.
	KeepRefreshToken     string
	KeepRefreshExpiresAt time.Time

	// Fresh skips unique-token reuse
	Fresh bool
}

// Now returns the provider clock
func (i *Issuer) Now() time.Time {
	return i.now()
}

// Logger returns the provider logger
func (i *Issuer) Logger() *slog.Logger {
	return i.logger
}

// Auditor returns the provider auditor, which may be nil
func (i *Issuer) Auditor() *security.Auditor {
	return i.auditor
}

// Tokens returns the access token store
func (i *Issuer) Tokens() storage.AccessTokenStore {
	return i.tokens
}

// Generator returns the token generator
func (i *Issuer) Generator() *tokengen.Generator {
	return i.generator
}

// IssueToken mints and persists an access token. In unique-token mode an
// unexpired token for the same client, grant type and user is returned as is.
func (i *Issuer) IssueToken(ctx context.Context, p TokenParams) (*storage.AccessToken, error) {
	now := i.now()

	if i.uniqueToken && !p.Fresh {
		existing, err := i.tokens.GetExistingToken(ctx, p.ClientID, p.GrantType, p.UserID)
		switch {
		case err == nil && !existing.IsExpired(now):
			span := trace.SpanFromContext(ctx)
			instrumentation.AddOAuthFlowAttributes(span, p.ClientID, p.UserID, existing.Scope())
			instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenReused, true))
			i.auditor.LogTokenReused(ctx, p.UserID, p.ClientID, p.GrantType)
			return existing, nil
		case err != nil && !errors.Is(err, storage.ErrAccessTokenNotFound):
			return nil, fmt.Errorf("failed to look up existing token: %w", err)
		}
	}

	data, err := i.generator.CreateAccessTokenData(tokengen.Params{
		GrantType: p.GrantType,
		UserID:    p.UserID,
		ClientID:  p.ClientID,
		Scopes:    p.Scopes,
		Data:      p.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	token := &storage.AccessToken{
		Token:     data.AccessToken,
		TokenType: data.TokenType,
		ClientID:  p.ClientID,
		GrantType: p.GrantType,
		UserID:    p.UserID,
		Scopes:    p.Scopes,
		ExpiresAt: tokengen.Deadline(now, data.ExpiresIn),
		Data:      p.Data,
	}

	switch {
	case p.NoRefresh:
	case p.KeepRefreshToken != "":
		token.RefreshToken = p.KeepRefreshToken
		token.RefreshExpiresAt = p.KeepRefreshExpiresAt
	case data.RefreshToken != "":
		token.RefreshToken = data.RefreshToken
		token.RefreshExpiresAt = tokengen.Deadline(now, i.generator.RefreshExpiresIn())
	}

	if err := i.tokens.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	instrumentation.AddOAuthFlowAttributes(span, p.ClientID, p.UserID, token.Scope())
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrTokenType, token.TokenType),
		attribute.Bool(instrumentation.AttrTokenReused, false))

	i.auditor.LogTokenIssued(ctx, p.UserID, p.ClientID, p.GrantType, token.Scope())
	if i.metrics != nil {
		i.metrics.RecordTokenIssued(ctx, p.GrantType, token.RefreshToken != "")
	}
	i.logger.Debug("Issued access token",
		"client_id", p.ClientID,
		"grant_type", p.GrantType,
		"refresh_token", token.RefreshToken != "")

	return token, nil
}

// IssueCode mints and persists an authorization code
func (i *Issuer) IssueCode(ctx context.Context, clientID, redirectURI string, scopes []string, identity *Identity) (*storage.AuthorizationCode, error) {
	code := &storage.AuthorizationCode{
		Code:        tokengen.GenerateCode(),
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		UserID:      identity.UserID,
		ExpiresAt:   i.now().Add(i.codeTTL),
		Data:        identity.Data,
	}
	if err := i.codes.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	i.auditor.LogCodeIssued(ctx, identity.UserID, clientID, strings.Join(scopes, " "))
	if i.metrics != nil {
		i.metrics.RecordCodeIssued(ctx)
	}
	return code, nil
}

// ConsumeCode atomically takes a code out of the store
func (i *Issuer) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	return i.codes.ConsumeAuthorizationCode(ctx, code)
}

// recordRefresh reports a completed refresh exchange
func (i *Issuer) recordRefresh(ctx context.Context, token *storage.AccessToken, rotated bool) {
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.Bool(instrumentation.AttrTokenRotated, rotated))
	i.auditor.LogTokenRefreshed(ctx, token.UserID, token.ClientID, rotated)
	if i.metrics != nil {
		i.metrics.RecordTokenRefreshed(ctx, rotated)
	}
}

// tokenResponse renders the RFC 6749 section 5.1 body
func (i *Issuer) tokenResponse(token *storage.AccessToken, includeRefresh bool) (*Response, error) {
	body := TokenResponse{
		AccessToken: token.Token,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn(i.now()),
		Scope:       token.Scope(),
	}
	if includeRefresh {
		body.RefreshToken = token.RefreshToken
	}
	return jsonResponse(200, body)
}
