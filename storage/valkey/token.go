package valkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// luaSaveToken writes a token record with its indexes in one step. When the
// refresh token already points at an older access token, that record is
// dropped so a carried refresh token always maps to the newest token.
//
// KEYS: token, unique, [refresh]
// ARGV: record, access token, ttl in milliseconds (0 = none), token key prefix
var luaSaveToken = valkeygo.NewLuaScript(`
local ttl = tonumber(ARGV[3])
local function put(key, value)
	if ttl > 0 then
		redis.call('SET', key, value, 'PX', ttl)
	else
		redis.call('SET', key, value)
	end
end
if KEYS[3] then
	local previous = redis.call('GET', KEYS[3])
	if previous and previous ~= ARGV[2] then
		redis.call('DEL', ARGV[4] .. previous)
	end
	put(KEYS[3], ARGV[2])
end
put(KEYS[1], ARGV[1])
put(KEYS[2], ARGV[2])
return 1
`)

// luaDeleteRefreshToken removes a refresh token and the access token it
// points at. A unique index left behind resolves to a missing record and is
// treated as not found.
//
// KEYS: refresh
// ARGV: token key prefix
var luaDeleteRefreshToken = valkeygo.NewLuaScript(`
local access = redis.call('GET', KEYS[1])
redis.call('DEL', KEYS[1])
if access then
	redis.call('DEL', ARGV[1] .. access)
	return 1
end
return 0
`)

// luaConsumeRefreshToken is luaDeleteRefreshToken that also returns the
// access token and its removed record, or nil when the refresh token is
// unknown.
//
// KEYS: refresh
// ARGV: token key prefix
var luaConsumeRefreshToken = valkeygo.NewLuaScript(`
local access = redis.call('GET', KEYS[1])
if not access then
	return false
end
redis.call('DEL', KEYS[1])
local record = redis.call('GET', ARGV[1] .. access)
if not record then
	return false
end
redis.call('DEL', ARGV[1] .. access)
return {access, record}
`)

// SaveToken stores a token under its access token, refresh token and
// (client, grant, user) keys. Keys live until the later of the access and
// refresh deadlines.
func (s *Store) SaveToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, op := s.startOp(ctx, "save_token")
	defer func() { op.End(ctx, err, false) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	key := s.tokenKey(token.Token)
	value, err := s.seal(key, toTokenRecord(token))
	if err != nil {
		return err
	}

	keys := []string{key, s.prefix + "unique:" + token.UniqueKey()}
	if token.RefreshToken != "" {
		keys = append(keys, s.refreshKey(token.RefreshToken))
	}
	ttl := s.ttlUntil(recordDeadline(token))
	args := []string{value, token.Token, strconv.FormatInt(ttl.Milliseconds(), 10), s.tokenKeyPrefix()}

	if err := luaSaveToken.Exec(ctx, s.client, keys, args).Error(); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"token_prefix", truncate(token.Token),
		"client_id", token.ClientID,
		"grant_type", token.GrantType)
	return nil
}

// GetToken returns the record for an access token
func (s *Store) GetToken(ctx context.Context, accessToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	return s.getToken(ctx, accessToken)
}

// GetTokenByRefreshToken returns the record a refresh token belongs to
func (s *Store) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_token_by_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	accessToken, err := s.resolve(ctx, s.refreshKey(refreshToken))
	if err != nil {
		return nil, err
	}
	return s.getToken(ctx, accessToken)
}

// DeleteRefreshToken revokes a refresh token and its access token
func (s *Store) DeleteRefreshToken(ctx context.Context, refreshToken string) (err error) {
	ctx, op := s.startOp(ctx, "delete_refresh_token")
	defer func() { op.End(ctx, err, false) }()

	if err := luaDeleteRefreshToken.Exec(ctx, s.client, []string{s.refreshKey(refreshToken)}, []string{s.tokenKeyPrefix()}).Error(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	s.logger.Debug("Deleted refresh token", "token_prefix", truncate(refreshToken))
	return nil
}

// ConsumeRefreshToken removes a refresh token and its access token in one
// script and returns the removed record
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "consume_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	reply, err := luaConsumeRefreshToken.Exec(ctx, s.client, []string{s.refreshKey(refreshToken)}, []string{s.tokenKeyPrefix()}).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected consume reply of length %d", len(reply))
	}

	var record tokenRecord
	if err := s.open(s.tokenKey(reply[0]), reply[1], &record); err != nil {
		return nil, err
	}
	s.logger.Debug("Consumed refresh token", "token_prefix", truncate(refreshToken))
	return fromTokenRecord(&record), nil
}

// GetExistingToken returns the latest token for (client, grant, user)
func (s *Store) GetExistingToken(ctx context.Context, clientID, grantType, userID string) (_ *storage.AccessToken, err error) {
	ctx, op := s.startOp(ctx, "get_existing_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	accessToken, err := s.resolve(ctx, s.uniqueKey(clientID, grantType, userID))
	if err != nil {
		return nil, err
	}
	return s.getToken(ctx, accessToken)
}

// resolve reads an index key holding an access token string
func (s *Store) resolve(ctx context.Context, indexKey string) (string, error) {
	accessToken, err := s.client.Do(ctx, s.client.B().Get().Key(indexKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrAccessTokenNotFound
		}
		return "", fmt.Errorf("failed to read token index: %w", err)
	}
	return accessToken, nil
}

func (s *Store) getToken(ctx context.Context, accessToken string) (*storage.AccessToken, error) {
	key := s.tokenKey(accessToken)
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAccessTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var record tokenRecord
	if err := s.open(key, data, &record); err != nil {
		return nil, err
	}
	return fromTokenRecord(&record), nil
}

// recordDeadline is the time after which no lookup can use the record. A
// zero deadline means the record never becomes useless.
func recordDeadline(token *storage.AccessToken) time.Time {
	if token.RefreshToken == "" {
		return token.ExpiresAt
	}
	if token.RefreshExpiresAt.IsZero() || token.ExpiresAt.IsZero() {
		return time.Time{}
	}
	if token.RefreshExpiresAt.After(token.ExpiresAt) {
		return token.RefreshExpiresAt
	}
	return token.ExpiresAt
}
