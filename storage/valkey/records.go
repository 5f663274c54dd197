package valkey

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// clientRecord is the stored form of a storage.Client. Predicate secrets
// cannot be stored; hashed secrets keep their bcrypt hash.
type clientRecord struct {
	ClientID                string   `json:"client_id"`
	SecretEncoding          string   `json:"secret_encoding"`
	Secret                  string   `json:"secret"`
	RedirectURIs            []string `json:"redirect_uris"`
	AuthorizedGrants        []string `json:"authorized_grants,omitempty"`
	AuthorizedResponseTypes []string `json:"authorized_response_types,omitempty"`
}

func toClientRecord(c *storage.Client) (*clientRecord, error) {
	encoding, secret, err := storage.EncodeSecret(c.Secret)
	if err != nil {
		return nil, err
	}
	return &clientRecord{
		ClientID:                c.ClientID,
		SecretEncoding:          encoding,
		Secret:                  secret,
		RedirectURIs:            c.RedirectURIs,
		AuthorizedGrants:        c.AuthorizedGrants,
		AuthorizedResponseTypes: c.AuthorizedResponseTypes,
	}, nil
}

func fromClientRecord(r *clientRecord) (*storage.Client, error) {
	secret, err := storage.DecodeSecret(r.SecretEncoding, r.Secret)
	if err != nil {
		return nil, err
	}
	return &storage.Client{
		ClientID:                r.ClientID,
		Secret:                  secret,
		RedirectURIs:            r.RedirectURIs,
		AuthorizedGrants:        r.AuthorizedGrants,
		AuthorizedResponseTypes: r.AuthorizedResponseTypes,
	}, nil
}

type codeRecord struct {
	Code        string         `json:"code"`
	ClientID    string         `json:"client_id"`
	RedirectURI string         `json:"redirect_uri"`
	Scopes      []string       `json:"scopes,omitempty"`
	UserID      string         `json:"user_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Data        map[string]any `json:"data,omitempty"`
}

func toCodeRecord(c *storage.AuthorizationCode) *codeRecord {
	return &codeRecord{
		Code:        c.Code,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		Scopes:      c.Scopes,
		UserID:      c.UserID,
		ExpiresAt:   c.ExpiresAt,
		Data:        c.Data,
	}
}

func fromCodeRecord(r *codeRecord) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        r.Code,
		ClientID:    r.ClientID,
		RedirectURI: r.RedirectURI,
		Scopes:      r.Scopes,
		UserID:      r.UserID,
		ExpiresAt:   r.ExpiresAt,
		Data:        r.Data,
	}
}

type tokenRecord struct {
	Token            string         `json:"token"`
	TokenType        string         `json:"token_type"`
	RefreshToken     string         `json:"refresh_token,omitempty"`
	ClientID         string         `json:"client_id"`
	GrantType        string         `json:"grant_type"`
	UserID           string         `json:"user_id,omitempty"`
	Scopes           []string       `json:"scopes,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at,omitzero"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at,omitzero"`
	Data             map[string]any `json:"data,omitempty"`
}

func toTokenRecord(t *storage.AccessToken) *tokenRecord {
	return &tokenRecord{
		Token:            t.Token,
		TokenType:        t.TokenType,
		RefreshToken:     t.RefreshToken,
		ClientID:         t.ClientID,
		GrantType:        t.GrantType,
		UserID:           t.UserID,
		Scopes:           t.Scopes,
		ExpiresAt:        t.ExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
		Data:             t.Data,
	}
}

func fromTokenRecord(r *tokenRecord) *storage.AccessToken {
	return &storage.AccessToken{
		Token:            r.Token,
		TokenType:        r.TokenType,
		RefreshToken:     r.RefreshToken,
		ClientID:         r.ClientID,
		GrantType:        r.GrantType,
		UserID:           r.UserID,
		Scopes:           r.Scopes,
		ExpiresAt:        r.ExpiresAt,
		RefreshExpiresAt: r.RefreshExpiresAt,
		Data:             r.Data,
	}
}

// seal marshals v and encrypts it bound to key
func (s *Store) seal(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}
	sealed, err := s.getEncryptor().Seal(data, key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt record: %w", err)
	}
	return sealed, nil
}

// open reverses seal
func (s *Store) open(key, sealed string, v any) error {
	data, err := s.getEncryptor().Open(sealed, key)
	if err != nil {
		return fmt.Errorf("failed to decrypt record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}
