package valkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// SaveClient saves a registered client. Predicate secrets cannot be
// persisted; use storage.HashSecret or a literal secret.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, op := s.startOp(ctx, "save_client")
	defer func() { op.End(ctx, err, false) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	record, err := toClientRecord(client)
	if err != nil {
		return fmt.Errorf("failed to save client %s: %w", client.ClientID, err)
	}

	key := s.clientKey(client.ClientID)
	value, err := s.seal(key, record)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, op := s.startOp(ctx, "get_client")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrClientNotFound)) }()

	key := s.clientKey(clientID)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var record clientRecord
	if err := s.open(key, data, &record); err != nil {
		return nil, err
	}
	return fromClientRecord(&record)
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.clientKey(clientID)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}
