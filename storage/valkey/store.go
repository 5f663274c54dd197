package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/internal/util"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth2:"

	backendName = "valkey"

	// tokenIDLogLength is the number of characters to include when logging tokens
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxRecordSize is the maximum size of a serialized record (64KB)
	MaxRecordSize = 64 * 1024

	// minTTL keeps already-expired records readable long enough for the
	// caller to see them as expired instead of missing
	minTTL = time.Second
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the client, authorization
// code and access token stores.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time

	instrumentation *instrumentation.Instrumentation

	// encryptor seals records at rest; access is guarded by encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

var (
	_ storage.ClientStore      = (*Store)(nil)
	_ storage.AuthCodeStore    = (*Store)(nil)
	_ storage.AccessTokenStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage spans and operation metrics
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// SetEncryptor enables encryption at rest. Every record is sealed with
// AES-256-GCM bound to its key, so a record copied under another key fails
// to open.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, *instrumentation.StorageOp) {
	return instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, operation)
}

// ttlUntil returns the key lifetime for a record that stays useful until
// deadline. Zero means no expiry.
func (s *Store) ttlUntil(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	ttl := deadline.Sub(s.now())
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// set writes value under key, with an expiry unless ttl is zero
func (s *Store) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		return s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Ex(ttl).Build()).Error()
	}
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Build()).Error()
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func truncate(token string) string {
	return util.SafeTruncate(token, tokenIDLogLength)
}

// clientKey returns {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

// codeKey returns {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

// tokenKeyPrefix is the prefix of every access token record key
func (s *Store) tokenKeyPrefix() string {
	return s.prefix + "token:"
}

// tokenKey returns {prefix}token:{accessToken}
func (s *Store) tokenKey(accessToken string) string {
	return s.tokenKeyPrefix() + accessToken
}

// refreshKey returns {prefix}refresh:{refreshToken}
func (s *Store) refreshKey(refreshToken string) string {
	return s.prefix + "refresh:" + refreshToken
}

// uniqueKey returns {prefix}unique:{clientID}_{grantType}_{userID}
func (s *Store) uniqueKey(clientID, grantType, userID string) string {
	return s.prefix + "unique:" + storage.UniqueTokenKey(clientID, grantType, userID)
}
