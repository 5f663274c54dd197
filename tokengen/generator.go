// Package tokengen produces access tokens, refresh tokens and authorization
// codes. A Generator combines a Strategy, which shapes token strings, with the
// per grant type lifetime policy that decides whether a refresh token and an
// expires_in value are issued.
package tokengen

import (
	"fmt"
	"maps"
	"time"
)

// Token kinds embedded in stateless tokens and used for type checks.
const (
	TypeAccessToken  = "access_token"
	TypeRefreshToken = "refresh_token"
)

// Params carries everything a strategy may encode into a token.
type Params struct {
	GrantType string
	UserID    string
	ClientID  string
	Scopes    []string
	Data      map[string]any
}

// Strategy shapes token strings. Implementations must be safe for
// concurrent use.
type Strategy interface {
	// Generate returns a new access token
	Generate(p Params) (string, error)

	// RefreshGenerate returns a new refresh token
	RefreshGenerate(p Params) (string, error)
}

// TokenData is the result of CreateAccessTokenData. RefreshToken is empty and
// ExpiresIn is zero when the grant type has no configured lifetime.
type TokenData struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresIn    int64
}

// Generator applies lifetime policy on top of a Strategy.
type Generator struct {
	strategy         Strategy
	expiresIn        map[string]int64
	refreshExpiresIn int64
}

// Option configures a Generator
type Option func(*Generator)

// WithExpiresIn sets access token lifetimes in seconds, keyed by grant type.
// Grant types present with a positive lifetime get a refresh token.
func WithExpiresIn(expiresIn map[string]int64) Option {
	return func(g *Generator) {
		g.expiresIn = maps.Clone(expiresIn)
	}
}

// WithRefreshExpiresIn bounds refresh token lifetime in seconds. Zero keeps
// refresh tokens valid until revoked.
func WithRefreshExpiresIn(seconds int64) Option {
	return func(g *Generator) {
		g.refreshExpiresIn = seconds
	}
}

// New creates a Generator around strategy. A nil strategy selects RandomBytes
// with its default length.
func New(strategy Strategy, opts ...Option) *Generator {
	if strategy == nil {
		strategy = NewRandomBytes(0)
	}
	g := &Generator{
		strategy:  strategy,
		expiresIn: map[string]int64{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Strategy returns the underlying strategy
func (g *Generator) Strategy() Strategy {
	return g.strategy
}

// ExpiresIn returns the configured access token lifetime for grantType in
// seconds, or 0 when none is configured
func (g *Generator) ExpiresIn(grantType string) int64 {
	if v, ok := g.expiresIn[grantType]; ok && v > 0 {
		return v
	}
	return 0
}

// RefreshExpiresIn returns the refresh token lifetime in seconds
func (g *Generator) RefreshExpiresIn() int64 {
	return g.refreshExpiresIn
}

// Generate delegates to the strategy
func (g *Generator) Generate(p Params) (string, error) {
	return g.strategy.Generate(p)
}

// RefreshGenerate delegates to the strategy
func (g *Generator) RefreshGenerate(p Params) (string, error) {
	return g.strategy.RefreshGenerate(p)
}

// CreateAccessTokenData issues the token strings for a grant. A refresh token
// and expires_in are included only when p.GrantType has a configured lifetime.
func (g *Generator) CreateAccessTokenData(p Params) (*TokenData, error) {
	access, err := g.strategy.Generate(p)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	result := &TokenData{
		AccessToken: access,
		TokenType:   "Bearer",
	}

	if expiresIn := g.ExpiresIn(p.GrantType); expiresIn > 0 {
		refresh, err := g.strategy.RefreshGenerate(p)
		if err != nil {
			return nil, fmt.Errorf("failed to generate refresh token: %w", err)
		}
		result.RefreshToken = refresh
		result.ExpiresIn = expiresIn
	}

	return result, nil
}

// Deadline converts a lifetime in seconds into an absolute time. Zero
// seconds yields the zero time, meaning no expiry.
func Deadline(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}
