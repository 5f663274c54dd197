package oauth

import (
	"context"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// Identity is an authenticated resource owner as reported by a site adapter
type Identity struct {
	// UserID identifies the resource owner. It may be empty for sites without user accounts.
	UserID string

	// Data is opaque site data copied onto the issued code or token
	Data map[string]any
}

// Authenticator verifies the resource owner for a request. It returns
// ErrUserNotAuthenticated when the user could not be authenticated; any other
// error is treated as a server failure.
type Authenticator interface {
	Authenticate(ctx context.Context, req *Request, scopes []string, client *storage.Client) (*Identity, error)
}

// DenialDetector reports whether the resource owner refused the authorization
type DenialDetector interface {
	UserHasDeniedAccess(ctx context.Context, req *Request) bool
}

// ConfirmationRenderer is optionally implemented by authorization site
// adapters. When authentication fails the provider returns its page instead
// of redirecting with access_denied.
type ConfirmationRenderer interface {
	RenderAuthPage(ctx context.Context, req *Request, scopes []string, client *storage.Client) (*Response, error)
}

// AuthorizeSiteAdapter is what the redirect based grants need from the site
type AuthorizeSiteAdapter interface {
	Authenticator
	DenialDetector
}

// AuthenticatorFunc adapts a function to Authenticator
type AuthenticatorFunc func(ctx context.Context, req *Request, scopes []string, client *storage.Client) (*Identity, error)

// Authenticate calls f
func (f AuthenticatorFunc) Authenticate(ctx context.Context, req *Request, scopes []string, client *storage.Client) (*Identity, error) {
	return f(ctx, req, scopes, client)
}
