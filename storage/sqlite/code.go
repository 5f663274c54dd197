package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

type codeRow struct {
	Code        string `db:"code"`
	ClientID    string `db:"client_id"`
	RedirectURI string `db:"redirect_uri"`
	Scopes      string `db:"scopes"`
	UserID      string `db:"user_id"`
	ExpiresAt   int64  `db:"expires_at"`
	Data        string `db:"data"`
}

const codeColumns = `code, client_id, redirect_uri, scopes, user_id, expires_at, data`

// SaveAuthorizationCode stores a freshly issued code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, op := s.startOp(ctx, "save_code")
	defer func() { op.End(ctx, err, false) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := encodeJSON(code.Data)
	if err != nil {
		return err
	}
	row := codeRow{
		Code:        code.Code,
		ClientID:    code.ClientID,
		RedirectURI: code.RedirectURI,
		Scopes:      joinScopes(code.Scopes),
		UserID:      code.UserID,
		ExpiresAt:   toMillis(code.ExpiresAt),
		Data:        data,
	}

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO authorization_codes (`+codeColumns+`)
		VALUES (:code, :client_id, :redirect_uri, :scopes, :user_id, :expires_at, :data)`, row); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode returns a code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := s.startOp(ctx, "get_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	return s.selectCode(ctx, `SELECT `+codeColumns+` FROM authorization_codes WHERE code = ?`, code)
}

// ConsumeAuthorizationCode deletes a code and returns the deleted row in a
// single statement, so at most one concurrent caller receives it
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := s.startOp(ctx, "consume_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	return s.selectCode(ctx, `DELETE FROM authorization_codes WHERE code = ? RETURNING `+codeColumns, code)
}

// DeleteAuthorizationCode removes a code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, op := s.startOp(ctx, "delete_code")
	defer func() { op.End(ctx, err, false) }()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = ?`, code); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

func (s *Store) selectCode(ctx context.Context, query, code string) (*storage.AuthorizationCode, error) {
	var row codeRow
	if err := s.db.GetContext(ctx, &row, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAuthCodeNotFound
		}
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	out := &storage.AuthorizationCode{
		Code:        row.Code,
		ClientID:    row.ClientID,
		RedirectURI: row.RedirectURI,
		Scopes:      splitScopes(row.Scopes),
		UserID:      row.UserID,
		ExpiresAt:   fromMillis(row.ExpiresAt),
	}
	if err := decodeJSON(row.Data, &out.Data); err != nil {
		return nil, err
	}
	return out, nil
}
