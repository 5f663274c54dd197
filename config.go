package oauth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/security"
)

const (
	// DefaultAuthorizePath is where the authorization endpoint is served
	DefaultAuthorizePath = "/authorize"

	// DefaultTokenPath is where the token endpoint is served
	DefaultTokenPath = "/token"

	// DefaultAuthorizationCodeTTL is how long an authorization code stays redeemable
	DefaultAuthorizationCodeTTL = 10 * time.Minute
)

// Config holds the provider configuration
type Config struct {
	// AuthorizePath is the path of the authorization endpoint.
	// Default: "/authorize"
	AuthorizePath string

	// TokenPath is the path of the token endpoint.
	// Default: "/token"
	TokenPath string

	// RevokePath enables RFC 7009 refresh token revocation at this path.
	// Default: "" (disabled)
	RevokePath string

	// UniqueToken makes the provider hand out the existing valid token for a
	// (client, grant type, user) triple instead of minting a new one.
	UniqueToken bool

	// AuthorizationCodeTTL is how long an authorization code stays redeemable.
	// Default: 10 minutes
	AuthorizationCodeTTL time.Duration

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Auditor receives security events. Optional; a nil Auditor logs nothing.
	Auditor *security.Auditor

	// Instrumentation provides tracing and metrics. Optional.
	Instrumentation *instrumentation.Instrumentation

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// applyDefaults fills unset fields
func (c *Config) applyDefaults() {
	if c.AuthorizePath == "" {
		c.AuthorizePath = DefaultAuthorizePath
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.AuthorizationCodeTTL == 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// validate rejects endpoint layouts Dispatch could not route
func (c *Config) validate() error {
	paths := map[string]string{"authorize": c.AuthorizePath, "token": c.TokenPath}
	if c.RevokePath != "" {
		paths["revoke"] = c.RevokePath
	}

	seen := make(map[string]string, len(paths))
	for name, path := range paths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s path %q must start with /", name, path)
		}
		if other, ok := seen[path]; ok {
			return fmt.Errorf("%s and %s endpoints share path %q", name, other, path)
		}
		seen[path] = name
	}
	if c.AuthorizationCodeTTL < 0 {
		return fmt.Errorf("authorization code TTL must not be negative")
	}
	return nil
}
