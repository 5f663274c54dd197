package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/security"
	"github.com/giantswarm/oauth2-stateless/storage"
	"github.com/giantswarm/oauth2-stateless/storage/memory"
	"github.com/giantswarm/oauth2-stateless/storage/redis"
	"github.com/giantswarm/oauth2-stateless/storage/sqlite"
	"github.com/giantswarm/oauth2-stateless/storage/stateless"
	"github.com/giantswarm/oauth2-stateless/storage/valkey"
	"github.com/giantswarm/oauth2-stateless/tokengen"
)

// backend is what every persisting store offers the server
type backend interface {
	storage.ClientStore
	storage.AuthCodeStore
	storage.AccessTokenStore
	SaveClient(ctx context.Context, client *storage.Client) error
}

// Stores holds the stores the provider runs on and what closes them
type Stores struct {
	Clients storage.ClientStore
	Codes   storage.AuthCodeStore
	Tokens  storage.AccessTokenStore

	saveClient func(ctx context.Context, client *storage.Client) error
	closers    []func()
}

// Close releases every backend connection, most recent first
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores opens the configured backend. With the stateless token
// strategy, tokens are verified from their signature and the backend only
// keeps clients and codes.
func OpenStores(ctx context.Context, cfg *Config, strategy tokengen.Strategy, inst *instrumentation.Instrumentation, logger *slog.Logger) (*Stores, error) {
	stores := &Stores{}

	b, err := openBackend(cfg, inst, logger, stores)
	if err != nil {
		stores.Close()
		return nil, err
	}
	stores.Clients, stores.Codes, stores.Tokens = b, b, b
	stores.saveClient = b.SaveClient

	if signer, ok := strategy.(*tokengen.Stateless); ok {
		denylist, err := openDenylist(ctx, cfg, logger, stores)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.Tokens = stateless.New(signer, denylist, logger)
	}
	return stores, nil
}

func openBackend(cfg *Config, inst *instrumentation.Instrumentation, logger *slog.Logger, stores *Stores) (backend, error) {
	switch cfg.Storage.Backend {
	case BackendSQLite:
		s, err := sqlite.New(sqlite.Config{Path: cfg.Storage.SQLite.Path, Logger: logger})
		if err != nil {
			return nil, err
		}
		s.SetInstrumentation(inst)
		stop := startCleanup(cfg.Storage.CleanupInterval, logger, s.Cleanup)
		stores.closers = append(stores.closers, func() {
			stop()
			if err := s.Close(); err != nil {
				logger.Warn("Error closing SQLite storage", "error", err)
			}
		})
		return s, nil

	case BackendValkey:
		s, err := valkey.New(valkey.Config{
			Address:   cfg.Storage.Valkey.Address,
			Password:  cfg.Storage.Valkey.Password,
			DB:        cfg.Storage.Valkey.DB,
			KeyPrefix: cfg.Storage.Valkey.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, s.Close)
		s.SetInstrumentation(inst)
		if cfg.Storage.Valkey.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.Storage.Valkey.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("invalid valkey encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				return nil, err
			}
			s.SetEncryptor(enc)
		}
		return s, nil

	default:
		s := memory.NewWithInterval(cfg.Storage.CleanupInterval)
		s.SetLogger(logger)
		s.SetInstrumentation(inst)
		stores.closers = append(stores.closers, s.Stop)
		return s, nil
	}
}

func openDenylist(ctx context.Context, cfg *Config, logger *slog.Logger, stores *Stores) (storage.Denylist, error) {
	switch cfg.Denylist.Backend {
	case "redis":
		d, err := redis.New(ctx, redis.Config{
			Address:         cfg.Denylist.Redis.Address,
			Password:        cfg.Denylist.Redis.Password,
			DB:              cfg.Denylist.Redis.DB,
			KeyPrefix:       cfg.Denylist.Redis.KeyPrefix,
			ConnectAttempts: cfg.Denylist.Redis.ConnectAttempts,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		stores.closers = append(stores.closers, func() {
			if err := d.Close(); err != nil {
				logger.Warn("Error closing Redis denylist", "error", err)
			}
		})
		return d, nil
	case "memory":
		d := memory.NewWithInterval(cfg.Storage.CleanupInterval)
		d.SetLogger(logger)
		stores.closers = append(stores.closers, d.Stop)
		return d, nil
	default:
		return nil, nil
	}
}

// SeedClients registers the clients listed in the config file, replacing
// earlier registrations under the same ID
func (s *Stores) SeedClients(ctx context.Context, clients []ClientConfig) error {
	for _, c := range clients {
		secret := storage.LiteralSecret(c.Secret)
		if c.SecretHash != "" {
			secret = storage.HashedSecret(c.SecretHash)
		}
		err := s.saveClient(ctx, &storage.Client{
			ClientID:                c.ID,
			Secret:                  secret,
			RedirectURIs:            c.RedirectURIs,
			AuthorizedGrants:        c.Grants,
			AuthorizedResponseTypes: c.ResponseTypes,
		})
		if err != nil {
			return fmt.Errorf("failed to register client %q: %w", c.ID, err)
		}
	}
	return nil
}

// startCleanup runs fn every interval until the returned stop is called
func startCleanup(interval time.Duration, logger *slog.Logger, fn func(context.Context) (int64, error)) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fn(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("Storage cleanup failed", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
