package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-stateless/storage"
)

type clientRow struct {
	ClientID                string `db:"client_id"`
	SecretEncoding          string `db:"secret_encoding"`
	Secret                  string `db:"secret"`
	RedirectURIs            string `db:"redirect_uris"`
	AuthorizedGrants        string `db:"authorized_grants"`
	AuthorizedResponseTypes string `db:"authorized_response_types"`
}

// SaveClient inserts or replaces a client registration. Predicate secrets
// cannot be persisted; use storage.HashSecret or a literal secret.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, op := s.startOp(ctx, "save_client")
	defer func() { op.End(ctx, err, false) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	row := clientRow{ClientID: client.ClientID}
	row.SecretEncoding, row.Secret, err = storage.EncodeSecret(client.Secret)
	if err != nil {
		return fmt.Errorf("failed to save client %s: %w", client.ClientID, err)
	}
	if row.RedirectURIs, err = encodeJSON(nonNil(client.RedirectURIs)); err != nil {
		return err
	}
	if row.AuthorizedGrants, err = encodeJSON(nonNil(client.AuthorizedGrants)); err != nil {
		return err
	}
	if row.AuthorizedResponseTypes, err = encodeJSON(nonNil(client.AuthorizedResponseTypes)); err != nil {
		return err
	}

	query := `
		INSERT INTO clients (client_id, secret_encoding, secret, redirect_uris, authorized_grants, authorized_response_types)
		VALUES (:client_id, :secret_encoding, :secret, :redirect_uris, :authorized_grants, :authorized_response_types)
		ON CONFLICT (client_id) DO UPDATE SET
			secret_encoding = excluded.secret_encoding,
			secret = excluded.secret,
			redirect_uris = excluded.redirect_uris,
			authorized_grants = excluded.authorized_grants,
			authorized_response_types = excluded.authorized_response_types`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, op := s.startOp(ctx, "get_client")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrClientNotFound)) }()

	var row clientRow
	err = s.db.GetContext(ctx, &row, `
		SELECT client_id, secret_encoding, secret, redirect_uris, authorized_grants, authorized_response_types
		FROM clients
		WHERE client_id = ?`, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	return row.toClient()
}

// ListClients returns all registered clients sorted by ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT client_id, secret_encoding, secret, redirect_uris, authorized_grants, authorized_response_types
		FROM clients
		ORDER BY client_id`); err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients := make([]*storage.Client, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toClient()
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// DeleteClient removes a client registration
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (r *clientRow) toClient() (*storage.Client, error) {
	secret, err := storage.DecodeSecret(r.SecretEncoding, r.Secret)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", r.ClientID, err)
	}
	c := &storage.Client{ClientID: r.ClientID, Secret: secret}
	if err := decodeJSON(r.RedirectURIs, &c.RedirectURIs); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.AuthorizedGrants, &c.AuthorizedGrants); err != nil {
		return nil, err
	}
	if err := decodeJSON(r.AuthorizedResponseTypes, &c.AuthorizedResponseTypes); err != nil {
		return nil, err
	}
	return c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
