package valkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// SaveAuthorizationCode stores a code until it expires
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, op := s.startOp(ctx, "save_code")
	defer func() { op.End(ctx, err, false) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	key := s.codeKey(code.Code)
	value, err := s.seal(key, toCodeRecord(code))
	if err != nil {
		return err
	}

	if err := s.set(ctx, key, value, s.ttlUntil(code.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code", truncate(code.Code),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode returns a code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := s.startOp(ctx, "get_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	key := s.codeKey(code)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthCodeNotFound
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	return s.openCode(key, data)
}

// ConsumeAuthorizationCode fetches and deletes a code with GETDEL, so at
// most one concurrent caller receives it
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := s.startOp(ctx, "consume_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	key := s.codeKey(code)
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	return s.openCode(key, data)
}

// DeleteAuthorizationCode removes a code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, op := s.startOp(ctx, "delete_code")
	defer func() { op.End(ctx, err, false) }()

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

func (s *Store) openCode(key, data string) (*storage.AuthorizationCode, error) {
	var record codeRecord
	if err := s.open(key, data, &record); err != nil {
		return nil, err
	}
	return fromCodeRecord(&record), nil
}
