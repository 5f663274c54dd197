// Package sqlite provides a SQLite storage backend for registered clients,
// authorization codes and access tokens. It uses the pure Go
// modernc.org/sqlite driver, so no cgo toolchain is required.
//
// The schema is embedded and applied with golang-migrate when the store
// opens.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/giantswarm/oauth2-stateless/instrumentation"
	"github.com/giantswarm/oauth2-stateless/storage"
)

const (
	backendName = "sqlite"

	// tokenIDLogLength is the number of characters to include when logging tokens
	tokenIDLogLength = 8
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a SQLite-backed implementation of the client, authorization
// code and access token stores.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time

	instrumentation *instrumentation.Instrumentation
}

var (
	_ storage.ClientStore      = (*Store)(nil)
	_ storage.AuthCodeStore    = (*Store)(nil)
	_ storage.AccessTokenStore = (*Store)(nil)
)

// New opens the database and applies pending migrations
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Connect("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := migrateDatabase(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Opened SQLite storage", "path", cfg.Path)

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func migrateDatabase(db *sql.DB) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	target, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite", target)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
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

// SetClock overrides the time source used by Cleanup
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Cleanup deletes expired codes and tokens that can no longer be used or
// refreshed. It returns the number of rows removed.
func (s *Store) Cleanup(ctx context.Context) (_ int64, err error) {
	ctx, op := s.startOp(ctx, "cleanup")
	defer func() { op.End(ctx, err, false) }()

	now := toMillis(s.now())

	codes, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired codes: %w", err)
	}
	tokens, err := s.db.ExecContext(ctx, `
		DELETE FROM access_tokens
		WHERE expires_at IS NOT NULL AND expires_at < ?
		  AND (refresh_token IS NULL OR (refresh_expires_at IS NOT NULL AND refresh_expires_at < ?))`,
		now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	codeCount, _ := codes.RowsAffected()
	tokenCount, _ := tokens.RowsAffected()
	if total := codeCount + tokenCount; total > 0 {
		s.logger.Debug("Cleaned up expired rows", "codes", codeCount, "tokens", tokenCount)
	}
	return codeCount + tokenCount, nil
}

func (s *Store) startOp(ctx context.Context, operation string) (context.Context, *instrumentation.StorageOp) {
	return instrumentation.StartStorageOp(ctx, s.instrumentation, backendName, operation)
}

// Times are stored as Unix milliseconds; NULL means no deadline.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v)
}

func toNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}
