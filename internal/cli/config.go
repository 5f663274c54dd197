package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	oauth "github.com/giantswarm/oauth2-stateless"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendValkey = "valkey"
)

// Token strategies
const (
	StrategyRandom    = "random"
	StrategyUUID      = "uuid"
	StrategyVerifier  = "verifier"
	StrategyStateless = "stateless"
)

// HTTP frameworks the server can run on
const (
	FrameworkNetHTTP = "net/http"
	FrameworkGin     = "gin"
	FrameworkFiber   = "fiber"
)

// minStatelessSecret is the shortest accepted signing secret
const minStatelessSecret = 32

// Config is the server configuration file. Values of the form ${VAR} are
// expanded from the environment before parsing.
type Config struct {
	Listen        string `yaml:"listen" validate:"required,hostname_port"`
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`
	Framework     string `yaml:"framework" validate:"oneof=net/http gin fiber"`

	TrustProxy        bool  `yaml:"trust_proxy"`
	TrustedProxyCount int   `yaml:"trusted_proxy_count" validate:"gte=0"`
	MaxBodyBytes      int64 `yaml:"max_body_bytes" validate:"gte=0"`

	Endpoints EndpointsConfig `yaml:"endpoints"`
	Grants    []string        `yaml:"grants" validate:"dive,oneof=authorization_code implicit password client_credentials refresh_token"`
	Scopes    ScopesConfig    `yaml:"scopes"`

	UniqueToken          bool `yaml:"unique_token"`
	ReissueRefreshTokens bool `yaml:"reissue_refresh_tokens"`

	Tokens   TokensConfig   `yaml:"tokens"`
	Storage  StorageConfig  `yaml:"storage"`
	Denylist DenylistConfig `yaml:"denylist"`

	Clients []ClientConfig `yaml:"clients" validate:"dive"`
	Users   []UserConfig   `yaml:"users" validate:"dive"`

	Log     LogConfig     `yaml:"log"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EndpointsConfig holds the endpoint paths
type EndpointsConfig struct {
	Authorize string        `yaml:"authorize" validate:"omitempty,startswith=/"`
	Token     string        `yaml:"token" validate:"omitempty,startswith=/"`
	Revoke    string        `yaml:"revoke" validate:"omitempty,startswith=/"`
	CodeTTL   time.Duration `yaml:"code_ttl" validate:"gte=0"`
}

// ScopesConfig restricts the scopes clients may request
type ScopesConfig struct {
	Available []string `yaml:"available"`
	Default   []string `yaml:"default"`
}

// TokensConfig selects the token strategy and lifetimes
type TokensConfig struct {
	Strategy string `yaml:"strategy" validate:"oneof=random uuid verifier stateless"`

	// Length is the random token length
	Length int `yaml:"length" validate:"gte=0,lte=128"`

	// ExpiresIn maps grant types to access token lifetimes in seconds.
	// Grant types listed here also receive refresh tokens.
	ExpiresIn map[string]int64 `yaml:"expires_in"`

	// RefreshExpiresIn bounds refresh tokens in seconds; 0 never expires
	RefreshExpiresIn int64 `yaml:"refresh_expires_in" validate:"gte=0"`

	// Secret signs stateless tokens
	Secret string `yaml:"secret" validate:"required_if=Strategy stateless"`

	// AccessTTL and RefreshTTL bound stateless tokens
	AccessTTL  time.Duration `yaml:"access_ttl" validate:"gte=0"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" validate:"gte=0"`
}

// StorageConfig selects where clients, codes and tokens live
type StorageConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=memory sqlite valkey"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Valkey  ValkeyConfig `yaml:"valkey"`

	// CleanupInterval is how often expired rows are purged (memory and sqlite)
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// SQLiteConfig configures the sqlite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ValkeyConfig configures the valkey backend
type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`

	// EncryptionKey is a base64 AES-256 key sealing records at rest
	EncryptionKey string `yaml:"encryption_key" validate:"omitempty,base64"`
}

// DenylistConfig configures early revocation of stateless tokens
type DenylistConfig struct {
	// Backend is "memory", "redis" or empty for no denylist
	Backend string      `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis denylist
type RedisConfig struct {
	Address         string `yaml:"address" validate:"required_if=Enabled true"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db" validate:"gte=0"`
	KeyPrefix       string `yaml:"key_prefix"`
	ConnectAttempts uint   `yaml:"connect_attempts"`

	// Enabled is set while loading when the redis denylist is selected
	Enabled bool `yaml:"-"`
}

// ClientConfig registers a client at startup
type ClientConfig struct {
	ID string `yaml:"id" validate:"required"`

	// Secret is compared literally; SecretHash is a bcrypt hash. Exactly one
	// of them must be set.
	Secret     string `yaml:"secret" validate:"required_without=SecretHash,excluded_with=SecretHash"`
	SecretHash string `yaml:"secret_hash" validate:"required_without=Secret"`

	RedirectURIs  []string `yaml:"redirect_uris" validate:"dive,url"`
	Grants        []string `yaml:"grants"`
	ResponseTypes []string `yaml:"response_types" validate:"dive,oneof=code token"`
}

// UserConfig is a resource owner known to the built-in site
type UserConfig struct {
	Username     string         `yaml:"username" validate:"required"`
	PasswordHash string         `yaml:"password_hash" validate:"required"`
	Data         map[string]any `yaml:"data"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// AuditConfig configures security event logging
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// FailuresPerSecond throttles failure events per client (0 disables throttling)
	FailuresPerSecond float64 `yaml:"failures_per_second" validate:"gte=0"`
	FailureBurst      int     `yaml:"failure_burst" validate:"gte=0"`
}

// MetricsConfig enables OpenTelemetry metrics exported for Prometheus
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a configuration serving every grant from memory
func DefaultConfig() Config {
	return Config{
		Listen:    ":8080",
		Framework: FrameworkNetHTTP,
		Tokens: TokensConfig{
			Strategy:         StrategyRandom,
			RefreshExpiresIn: 30 * 24 * 3600,
			AccessTTL:        time.Hour,
			RefreshTTL:       30 * 24 * time.Hour,
		},
		Storage: StorageConfig{Backend: BackendMemory},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

func defaultExpiresIn() map[string]int64 {
	return map[string]int64{
		oauth.GrantTypeAuthorizationCode: 3600,
		oauth.GrantTypePassword:          3600,
	}
}

// LoadConfig reads path over DefaultConfig and validates the result
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over DefaultConfig and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	// Decoding merges into maps, so the default lifetimes are only applied
	// when the file sets none
	if cfg.Tokens.ExpiresIn == nil {
		cfg.Tokens.ExpiresIn = defaultExpiresIn()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envPattern matches ${VAR}. Bare $VAR is left alone so bcrypt hashes
// survive expansion.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// Validate checks field constraints and the cross-field rules the tags
// cannot express
func (c *Config) Validate() error {
	c.Denylist.Redis.Enabled = c.Denylist.Backend == "redis"

	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return errors.New("invalid config: storage.sqlite.path is required")
		}
	case BackendValkey:
		if c.Storage.Valkey.Address == "" {
			return errors.New("invalid config: storage.valkey.address is required")
		}
	}
	if c.Tokens.Strategy == StrategyStateless && len(c.Tokens.Secret) < minStatelessSecret {
		return fmt.Errorf("invalid config: tokens.secret must be at least %d characters", minStatelessSecret)
	}
	if c.Denylist.Backend != "" && c.Tokens.Strategy != StrategyStateless {
		return errors.New("invalid config: denylist requires the stateless token strategy")
	}
	for grant, seconds := range c.Tokens.ExpiresIn {
		if seconds < 0 {
			return fmt.Errorf("invalid config: tokens.expires_in.%s must not be negative", grant)
		}
	}

	seen := make(map[string]bool, len(c.Clients))
	for _, client := range c.Clients {
		if seen[client.ID] {
			return fmt.Errorf("invalid config: client %q is defined twice", client.ID)
		}
		seen[client.ID] = true
	}
	return nil
}

// EnabledGrants returns the configured grants, or all of them
func (c *Config) EnabledGrants() []string {
	if len(c.Grants) > 0 {
		return c.Grants
	}
	return []string{
		oauth.GrantTypeAuthorizationCode,
		oauth.GrantTypeImplicit,
		oauth.GrantTypePassword,
		oauth.GrantTypeClientCredentials,
		oauth.GrantTypeRefreshToken,
	}
}

// NewLogger builds the process logger
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newValidator reports fields by their yaml names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		// Namespace is "Config.tokens.secret"; drop the root type
		field := err.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		var message string
		switch err.Tag() {
		case "required", "required_if", "required_without":
			message = fmt.Sprintf("%s is required", field)
		case "excluded_with":
			message = fmt.Sprintf("%s cannot be combined with %s", field, strings.ToLower(err.Param()))
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", field, err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "url":
			message = fmt.Sprintf("%s must be a valid URL", field)
		default:
			message = fmt.Sprintf("%s failed validation for %s", field, err.Tag())
		}
		messages = append(messages, message)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}
