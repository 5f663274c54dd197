package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every backend. Any other error returned by a
// store is treated as an unexpected failure and surfaces to the caller.
var (
	// ErrClientNotFound is returned when no client is registered under an ID
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthCodeNotFound is returned when an authorization code is unknown,
	// already consumed, or expired
	ErrAuthCodeNotFound = errors.New("authorization code not found")

	// ErrAccessTokenNotFound is returned when an access or refresh token is
	// unknown, revoked, or cannot be verified
	ErrAccessTokenNotFound = errors.New("access token not found")
)

// ClientStore resolves registered clients.
type ClientStore interface {
	// GetClient returns the client registered under clientID or ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// AuthCodeStore persists authorization codes between the two phases of the
// authorization code grant.
type AuthCodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns a code without consuming it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code; deleting an unknown code is not an error
	DeleteAuthorizationCode(ctx context.Context, code string) error

	// ConsumeAuthorizationCode atomically fetches and deletes a code. Of any
	// number of concurrent callers presenting the same code, at most one
	// receives it; the rest get ErrAuthCodeNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// AccessTokenStore persists issued tokens. Persisting backends keep three
// lookups: by access token, by refresh token, and by (client, grant, user).
type AccessTokenStore interface {
	// SaveToken stores a token under all of its indexes
	SaveToken(ctx context.Context, token *AccessToken) error

	// GetToken returns the token record for an access token string
	GetToken(ctx context.Context, accessToken string) (*AccessToken, error)

	// GetTokenByRefreshToken returns the token record a refresh token belongs to
	GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*AccessToken, error)

	// DeleteRefreshToken revokes a refresh token together with the access
	// token it was issued with
	DeleteRefreshToken(ctx context.Context, refreshToken string) error

	// ConsumeRefreshToken removes a refresh token and its access token and
	// returns the removed record. Of any number of concurrent callers
	// presenting the same refresh token, at most one receives it; the rest
	// get ErrAccessTokenNotFound.
	ConsumeRefreshToken(ctx context.Context, refreshToken string) (*AccessToken, error)

	// GetExistingToken returns the most recent token issued to a user for a
	// client under a grant type
	GetExistingToken(ctx context.Context, clientID, grantType, userID string) (*AccessToken, error)
}

// Denylist records tokens revoked before their natural expiry. It backs
// revocation for stores that keep no server-side token state.
type Denylist interface {
	// Revoke marks token as revoked until the given time. A zero time
	// revokes indefinitely.
	Revoke(ctx context.Context, token string, until time.Time) error

	// IsRevoked reports whether token has been revoked
	IsRevoked(ctx context.Context, token string) (bool, error)

	// RevokeOnce revokes token like Revoke and reports whether this call
	// did so. It returns false when the token was already revoked.
	RevokeOnce(ctx context.Context, token string, until time.Time) (bool, error)
}
