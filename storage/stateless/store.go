// Package stateless provides an AccessTokenStore for signed stateless
// tokens. Tokens carry their own payload, so nothing is written on issuance
// and lookups verify the presented token instead of reading an index.
//
// Revocation before natural expiry needs a storage.Denylist, for example the
// storage/redis denylist or a memory.Store. Without one DeleteRefreshToken
// is a no-op, and a rotated refresh token stays valid until its TTL ends and
// can be consumed more than once.
package stateless

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/tokengen"
)

// Store is a storage.AccessTokenStore backed by tokengen.Stateless
type Store struct {
	tokens   *tokengen.Stateless
	denylist storage.Denylist
	logger   *slog.Logger
}

var _ storage.AccessTokenStore = (*Store)(nil)

// New creates a stateless store. denylist may be nil.
func New(tokens *tokengen.Stateless, denylist storage.Denylist, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tokens: tokens, denylist: denylist, logger: logger}
}

// SaveToken is a no-op: the token is its own record
func (s *Store) SaveToken(context.Context, *storage.AccessToken) error {
	return nil
}

// GetToken verifies an access token and rebuilds its record
func (s *Store) GetToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	payload, err := s.verify(ctx, accessToken, tokengen.TypeAccessToken)
	if err != nil {
		return nil, err
	}
	return &storage.AccessToken{
		Token:     accessToken,
		TokenType: storage.TokenTypeBearer,
		ClientID:  payload.ClientID,
		GrantType: payload.GrantType,
		UserID:    payload.UserID,
		Scopes:    payload.Scopes,
		ExpiresAt: s.tokens.ExpiresAt(payload),
		Data:      payload.Data,
	}, nil
}

// GetTokenByRefreshToken verifies the presented refresh token itself. There
// is no index from refresh token to access token, so the returned record
// carries only the refresh token and its payload.
func (s *Store) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*storage.AccessToken, error) {
	payload, err := s.verify(ctx, refreshToken, tokengen.TypeRefreshToken)
	if err != nil {
		return nil, err
	}
	return s.refreshRecord(refreshToken, payload), nil
}

// ConsumeRefreshToken verifies a refresh token and claims it on the
// denylist with RevokeOnce. Only the caller whose claim succeeds gets the
// record.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.AccessToken, error) {
	payload, err := s.verify(ctx, refreshToken, tokengen.TypeRefreshToken)
	if err != nil {
		return nil, err
	}
	if s.denylist != nil {
		claimed, err := s.denylist.RevokeOnce(ctx, refreshToken, s.tokens.ExpiresAt(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
		}
		if !claimed {
			return nil, fmt.Errorf("%w: token revoked", storage.ErrAccessTokenNotFound)
		}
	}
	return s.refreshRecord(refreshToken, payload), nil
}

func (s *Store) refreshRecord(refreshToken string, payload *tokengen.Payload) *storage.AccessToken {
	return &storage.AccessToken{
		TokenType:        storage.TokenTypeBearer,
		RefreshToken:     refreshToken,
		ClientID:         payload.ClientID,
		GrantType:        payload.GrantType,
		UserID:           payload.UserID,
		Scopes:           payload.Scopes,
		RefreshExpiresAt: s.tokens.ExpiresAt(payload),
		Data:             payload.Data,
	}
}

// DeleteRefreshToken puts a refresh token on the denylist until it would
// have expired anyway
func (s *Store) DeleteRefreshToken(ctx context.Context, refreshToken string) error {
	if s.denylist == nil {
		s.logger.Debug("No denylist configured, refresh token stays valid until it expires")
		return nil
	}

	payload, err := s.tokens.ValidateToken(refreshToken, tokengen.TypeRefreshToken)
	if err != nil {
		// Invalid tokens cannot be used anyway.
		return nil
	}
	if err := s.denylist.Revoke(ctx, refreshToken, s.tokens.ExpiresAt(payload)); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// GetExistingToken always reports not found: stateless tokens keep no
// (client, grant, user) index, so unique-token mode always issues new tokens
func (s *Store) GetExistingToken(context.Context, string, string, string) (*storage.AccessToken, error) {
	return nil, storage.ErrAccessTokenNotFound
}

func (s *Store) verify(ctx context.Context, token, expectedType string) (*tokengen.Payload, error) {
	payload, err := s.tokens.ValidateToken(token, expectedType)
	if err != nil {
		return nil, err
	}
	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to check denylist: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", storage.ErrAccessTokenNotFound)
		}
	}
	return payload, nil
}
