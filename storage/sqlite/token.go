package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/giantswarm/oauth2-stateless/internal/util"
	"github.com/giantswarm/oauth2-stateless/storage"
)

type tokenRow struct {
	Token            string         `db:"token"`
	TokenType        string         `db:"token_type"`
	RefreshToken     sql.NullString `db:"refresh_token"`
	ClientID         string         `db:"client_id"`
	GrantType        string         `db:"grant_type"`
	UserID           string         `db:"user_id"`
	Scopes           string         `db:"scopes"`
	ExpiresAt        sql.NullInt64  `db:"expires_at"`
	RefreshExpiresAt sql.NullInt64  `db:"refresh_expires_at"`
	Data             string         `db:"data"`
}

const tokenColumns = `token, token_type, refresh_token, client_id, grant_type, user_id, scopes, expires_at, refresh_expires_at, data`

// SaveToken stores a token. A refresh token carried over from an older
// access token is moved to the new one and the older row is dropped.
func (s *Store) SaveToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, op := s.startOp(ctx, "save_token")
	defer func() { op.End(ctx, err, false) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	data, err := encodeJSON(token.Data)
	if err != nil {
		return err
	}
	row := tokenRow{
		Token:            token.Token,
		TokenType:        token.TokenType,
		RefreshToken:     sql.NullString{String: token.RefreshToken, Valid: token.RefreshToken != ""},
		ClientID:         token.ClientID,
		GrantType:        token.GrantType,
		UserID:           token.UserID,
		Scopes:           joinScopes(token.Scopes),
		ExpiresAt:        toNullMillis(token.ExpiresAt),
		RefreshExpiresAt: toNullMillis(token.RefreshExpiresAt),
		Data:             data,
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if row.RefreshToken.Valid {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM access_tokens WHERE refresh_token = ? AND token <> ?`,
				row.RefreshToken, row.Token); err != nil {
				return fmt.Errorf("failed to drop previous access token: %w", err)
			}
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT OR REPLACE INTO access_tokens (`+tokenColumns+`)
			VALUES (:token, :token_type, :refresh_token, :client_id, :grant_type, :user_id, :scopes, :expires_at, :refresh_expires_at, :data)`,
			row); err != nil {
			return fmt.Errorf("failed to save access token: %w", err)
		}

		s.logger.Debug("Saved access token",
			"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
			"client_id", token.ClientID,
			"grant_type", token.GrantType)
		return nil
	})
}

// GetToken returns the record for an access token
func (s *Store) GetToken(ctx context.Context, accessToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	return s.selectToken(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token = ?`, accessToken)
}

// GetTokenByRefreshToken returns the record a refresh token belongs to
func (s *Store) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_token_by_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	return s.selectToken(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE refresh_token = ?`, refreshToken)
}

// DeleteRefreshToken deletes the row carrying the refresh token, which
// revokes its access token too
func (s *Store) DeleteRefreshToken(ctx context.Context, refreshToken string) (err error) {
	ctx, op := s.startOp(ctx, "delete_refresh_token")
	defer func() { op.End(ctx, err, false) }()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE refresh_token = ?`, refreshToken); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	s.logger.Debug("Deleted refresh token", "token_prefix", util.SafeTruncate(refreshToken, tokenIDLogLength))
	return nil
}

// ConsumeRefreshToken deletes the row carrying the refresh token and
// returns it in a single statement, so at most one concurrent caller
// receives it
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "consume_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	return s.selectToken(ctx, `DELETE FROM access_tokens WHERE refresh_token = ? RETURNING `+tokenColumns, refreshToken)
}

// GetExistingToken returns the most recently saved token for
// (client, grant, user)
func (s *Store) GetExistingToken(ctx context.Context, clientID, grantType, userID string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_existing_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	return s.selectToken(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens
		WHERE client_id = ? AND grant_type = ? AND user_id = ?
		ORDER BY id DESC
		LIMIT 1`, clientID, grantType, userID)
}

func (s *Store) selectToken(ctx context.Context, query string, args ...any) (*storage.AccessToken, error) {
	var row tokenRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}

	out := &storage.AccessToken{
		Token:            row.Token,
		TokenType:        row.TokenType,
		RefreshToken:     row.RefreshToken.String,
		ClientID:         row.ClientID,
		GrantType:        row.GrantType,
		UserID:           row.UserID,
		Scopes:           splitScopes(row.Scopes),
		ExpiresAt:        fromNullMillis(row.ExpiresAt),
		RefreshExpiresAt: fromNullMillis(row.RefreshExpiresAt),
	}
	if err := decodeJSON(row.Data, &out.Data); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
