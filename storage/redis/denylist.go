// Package redis provides a Redis-backed storage.Denylist. It lets stateless
// token deployments revoke refresh tokens before they expire, shared across
// every server instance.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-stateless/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for denylist keys
	DefaultKeyPrefix = "oauth2:denylist:"

	// DefaultConnectAttempts is how often New pings before giving up
	DefaultConnectAttempts = 5

	pingTimeout = 5 * time.Second
)

// Config holds configuration for the Redis denylist.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:denylist:")
	KeyPrefix string

	// ConnectAttempts bounds the initial connection retries (default 5)
	ConnectAttempts uint

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Denylist stores revoked tokens as keys that expire together with the
// token. Tokens are hashed before use as keys, so the server never holds a
// usable token.
type Denylist struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Denylist = (*Denylist)(nil)

// New connects to Redis, retrying the initial ping with exponential backoff
func New(ctx context.Context, cfg Config) (*Denylist, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = DefaultConnectAttempts
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.RandomizationFactor = 0.1
	exp.Multiplier = 1.5
	exp.Reset()

	ping := func() (string, error) {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		result, err := client.Ping(pingCtx).Result()
		if err != nil {
			logger.Debug("Redis ping failed, retrying", "address", cfg.Address, "error", err)
		}
		return result, err
	}

	if _, err := backoff.Retry(ctx, ping, backoff.WithBackOff(exp), backoff.WithMaxTries(attempts)); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Error closing Redis after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis denylist", "address", cfg.Address, "db", cfg.DB, "prefix", prefix)

	return &Denylist{client: client, prefix: prefix, logger: logger, now: time.Now}, nil
}

// Close closes the Redis connection
func (d *Denylist) Close() error {
	return d.client.Close()
}

// Revoke marks token as revoked until the given time. A zero time revokes
// indefinitely; a time already past is a no-op.
func (d *Denylist) Revoke(ctx context.Context, token string, until time.Time) error {
	var ttl time.Duration
	if !until.IsZero() {
		ttl = until.Sub(d.now())
		if ttl <= 0 {
			return nil
		}
	}

	if err := d.client.Set(ctx, d.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to add token to denylist: %w", err)
	}
	return nil
}

// RevokeOnce is Revoke through SET NX: of concurrent callers revoking the
// same token, only one is told it did
func (d *Denylist) RevokeOnce(ctx context.Context, token string, until time.Time) (bool, error) {
	var ttl time.Duration
	if !until.IsZero() {
		ttl = until.Sub(d.now())
		if ttl <= 0 {
			return false, nil
		}
	}

	ok, err := d.client.SetNX(ctx, d.key(token), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to add token to denylist: %w", err)
	}
	return ok, nil
}

// IsRevoked reports whether token is on the denylist
func (d *Denylist) IsRevoked(ctx context.Context, token string) (bool, error) {
	err := d.client.Get(ctx, d.key(token)).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check denylist: %w", err)
	}
	return true, nil
}

// Count returns the number of denylisted tokens
func (d *Denylist) Count(ctx context.Context) (int64, error) {
	var (
		count  int64
		cursor uint64
	)
	for {
		keys, next, err := d.client.Scan(ctx, cursor, d.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count denylist: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

func (d *Denylist) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return d.prefix + hex.EncodeToString(sum[:])
}
