package storage

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "Bearer"

// AuthorizationCode is the short-lived grant produced by the first phase of
// the authorization code flow. It is exchanged at most once.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string
	Scopes      []string
	UserID      string
	ExpiresAt   time.Time
	Data        map[string]any
}

// IsExpired reports whether the code's lifetime ended before now
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// Clone returns a deep copy so callers cannot alias stored state
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	out.Data = maps.Clone(c.Data)
	return &out
}

// AccessToken is an issued bearer token, optionally paired with a refresh
// token. A zero ExpiresAt never expires.
type AccessToken struct {
	Token            string
	TokenType        string
	RefreshToken     string
	ClientID         string
	GrantType        string
	UserID           string
	Scopes           []string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	Data             map[string]any
}

// IsExpired reports whether the access token's lifetime ended before now
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(now)
}

// IsRefreshExpired reports whether the refresh token's lifetime ended before now
func (t *AccessToken) IsRefreshExpired(now time.Time) bool {
	return !t.RefreshExpiresAt.IsZero() && t.RefreshExpiresAt.Before(now)
}

// ExpiresIn returns the remaining lifetime in whole seconds, 0 when the
// token never expires or already expired
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	remaining := int64(t.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Scope returns the scopes as a space separated string
func (t *AccessToken) Scope() string {
	return strings.Join(t.Scopes, " ")
}

// UniqueKey returns the composite (client, grant, user) index key
func (t *AccessToken) UniqueKey() string {
	return UniqueTokenKey(t.ClientID, t.GrantType, t.UserID)
}

// Clone returns a deep copy so callers cannot alias stored state
func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	out := *t
	out.Scopes = slices.Clone(t.Scopes)
	out.Data = maps.Clone(t.Data)
	return &out
}

// UniqueTokenKey builds the composite index key shared by all persisting
// backends.
func UniqueTokenKey(clientID, grantType, userID string) string {
	return clientID + "_" + grantType + "_" + userID
}
