package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/internal/util"
	"github.com/giantswarm/oauth2-stateless/storage"
)

const (
	// backendName labels spans and metrics
	backendName = "memory"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	// This provides enough uniqueness for debugging while keeping logs secure
	tokenIDLogLength = 8
)

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, AuthCodeStore, AccessTokenStore and Denylist.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode

	// tokens is keyed by access token; refresh and unique map into it
	tokens  map[string]*storage.AccessToken
	refresh map[string]string
	unique  map[string]string

	// denylist maps revoked token -> revoked until (zero = forever)
	denylist map[string]time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation

	// Atomic counters for metrics (lock-free access during metric collection)
	tokensCountAtomic        atomic.Int64
	refreshTokensCountAtomic atomic.Int64
	codesCountAtomic         atomic.Int64
	clientsCountAtomic       atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore      = (*Store)(nil)
	_ storage.AuthCodeStore    = (*Store)(nil)
	_ storage.AccessTokenStore = (*Store)(nil)
	_ storage.Denylist         = (*Store)(nil)
)

// New creates a new in-memory store with default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.AccessToken),
		refresh:         make(map[string]string),
		unique:          make(map[string]string),
		denylist:        make(map[string]time.Time),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the clock used to expire records
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.updateCounts()
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(backendName,
			s.tokensCountAtomic.Load,
			s.refreshTokensCountAtomic.Load,
			s.codesCountAtomic.Load,
			s.clientsCountAtomic.Load,
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// updateCounts refreshes the metric counters. Caller holds s.mu.
func (s *Store) updateCounts() {
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.refreshTokensCountAtomic.Store(int64(len(s.refresh)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient registers or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "save_client")
	defer func() { op.End(ctx, err, false) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = client.Clone()
	s.updateCounts()

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient returns a registered client
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "get_client")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrClientNotFound)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return client.Clone(), nil
}

// ListClients returns all registered clients sorted by ID
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// ============================================================
// AuthCodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "save_authorization_code")
	defer func() { op.End(ctx, err, false) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = code.Clone()
	s.updateCounts()
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "get_authorization_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthCodeNotFound
	}
	return authCode.Clone(), nil
}

// ConsumeAuthorizationCode atomically removes and returns a code.
//
// SECURITY: only ONE concurrent caller can receive a given code.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "consume_authorization_code")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAuthCodeNotFound)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthCodeNotFound
	}
	delete(s.codes, code)
	s.updateCounts()

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return authCode, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	s.updateCounts()
	s.logger.Debug("Deleted authorization code")
	return nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveToken stores a token under its access token, refresh token and
// (client, grant, user) indexes. A refresh token points at exactly one access
// token: when a refresh token is carried onto a new token the older access
// token is dropped.
func (s *Store) SaveToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "save_token")
	defer func() { op.End(ctx, err, false) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token.RefreshToken != "" {
		if previous, ok := s.refresh[token.RefreshToken]; ok && previous != token.Token {
			s.removeTokenLocked(previous)
		}
		s.refresh[token.RefreshToken] = token.Token
	}
	s.tokens[token.Token] = token.Clone()
	s.unique[token.UniqueKey()] = token.Token
	s.updateCounts()

	s.logger.Debug("Saved access token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength),
		"client_id", token.ClientID,
		"grant_type", token.GrantType)
	return nil
}

// GetToken returns the record for an access token
func (s *Store) GetToken(ctx context.Context, accessToken string) (_ *storage.AccessToken, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "get_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[accessToken]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	return token.Clone(), nil
}

// GetTokenByRefreshToken returns the record a refresh token belongs to
func (s *Store) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "get_token_by_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.refresh[refreshToken]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	return token.Clone(), nil
}

// DeleteRefreshToken removes a refresh token and the access token it maps to
func (s *Store) DeleteRefreshToken(ctx context.Context, refreshToken string) (err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "delete_refresh_token")
	defer func() { op.End(ctx, err, false) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if accessToken, ok := s.refresh[refreshToken]; ok {
		s.removeTokenLocked(accessToken)
	}
	delete(s.refresh, refreshToken)
	s.updateCounts()

	s.logger.Debug("Deleted refresh token", "token_prefix", util.SafeTruncate(refreshToken, tokenIDLogLength))
	return nil
}

// ConsumeRefreshToken removes a refresh token and its access token under
// the write lock and returns the removed record
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (_ *storage.AccessToken, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "consume_refresh_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	accessToken, ok := s.refresh[refreshToken]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		delete(s.refresh, refreshToken)
		s.updateCounts()
		return nil, storage.ErrAccessTokenNotFound
	}
	s.removeTokenLocked(accessToken)
	delete(s.refresh, refreshToken)
	s.updateCounts()

	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(refreshToken, tokenIDLogLength))
	return token.Clone(), nil
}

// GetExistingToken returns the latest token for (client, grant, user)
func (s *Store) GetExistingToken(ctx context.Context, clientID, grantType, userID string) (_ *storage.AccessToken, err error) {
	ctx, op := instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, "get_existing_token")
	defer func() { op.End(ctx, err, errors.Is(err, storage.ErrAccessTokenNotFound)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.unique[storage.UniqueTokenKey(clientID, grantType, userID)]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		return nil, storage.ErrAccessTokenNotFound
	}
	return token.Clone(), nil
}

// removeTokenLocked drops an access token and every index pointing at it.
// Caller holds s.mu.
func (s *Store) removeTokenLocked(accessToken string) {
	token, ok := s.tokens[accessToken]
	if !ok {
		return
	}
	delete(s.tokens, accessToken)
	if token.RefreshToken != "" && s.refresh[token.RefreshToken] == accessToken {
		delete(s.refresh, token.RefreshToken)
	}
	if key := token.UniqueKey(); s.unique[key] == accessToken {
		delete(s.unique, key)
	}
}

// ============================================================
// Denylist Implementation
// ============================================================

// Revoke marks a token as revoked until the given time
func (s *Store) Revoke(ctx context.Context, token string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denylist[token] = until
	return nil
}

// RevokeOnce revokes a token unless it is already revoked, and reports
// whether this call revoked it
func (s *Store) RevokeOnce(ctx context.Context, token string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !until.IsZero() && until.Before(now) {
		return false, nil
	}
	if prev, ok := s.denylist[token]; ok && (prev.IsZero() || !prev.Before(now)) {
		return false, nil
	}
	s.denylist[token] = until
	return true, nil
}

// IsRevoked reports whether a token is on the denylist
func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.denylist[token]
	if !ok {
		return false, nil
	}
	return until.IsZero() || !until.Before(s.now()), nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops expired codes, tokens that can no longer be used or
// refreshed, and lapsed denylist entries
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for code, authCode := range s.codes {
		if authCode.IsExpired(now) {
			delete(s.codes, code)
			cleaned++
		}
	}

	for accessToken, token := range s.tokens {
		refreshUsable := token.RefreshToken != "" && !token.IsRefreshExpired(now)
		if token.IsExpired(now) && !refreshUsable {
			s.removeTokenLocked(accessToken)
			cleaned++
		}
	}

	for token, until := range s.denylist {
		if !until.IsZero() && until.Before(now) {
			delete(s.denylist, token)
			cleaned++
		}
	}

	s.updateCounts()
	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}
