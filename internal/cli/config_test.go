package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, FrameworkNetHTTP, cfg.Framework)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, StrategyRandom, cfg.Tokens.Strategy)
	assert.Equal(t, int64(3600), cfg.Tokens.ExpiresIn["password"])
	assert.Len(t, cfg.EnabledGrants(), 5)
}

func TestParseConfig_Full(t *testing.T) {
	t.Setenv("TEST_SIGNING_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := ParseConfig([]byte(`
listen: "127.0.0.1:9000"
metrics_listen: ":9100"
framework: gin
endpoints:
  authorize: /oauth/authorize
  token: /oauth/token
  revoke: /oauth/revoke
  code_ttl: 2m
grants: [password, refresh_token]
scopes:
  available: [read, write]
  default: [read]
reissue_refresh_tokens: true
tokens:
  strategy: stateless
  secret: ${TEST_SIGNING_SECRET}
  expires_in:
    password: 600
  access_ttl: 10m
  refresh_ttl: 24h
storage:
  backend: sqlite
  sqlite:
    path: /tmp/oauth2.db
denylist:
  backend: redis
  redis:
    address: localhost:6379
clients:
  - id: abc
    secret: xyz
    redirect_uris: [https://app.example.com/callback]
    grants: [password]
users:
  - username: alice
    password_hash: "$2a$10$abcdefghijklmnopqrstuv"
    data:
      tenant: acme
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, FrameworkGin, cfg.Framework)
	assert.Equal(t, "/oauth/token", cfg.Endpoints.Token)
	assert.Equal(t, 2*time.Minute, cfg.Endpoints.CodeTTL)
	assert.Equal(t, []string{"password", "refresh_token"}, cfg.EnabledGrants())
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Tokens.Secret)
	assert.Equal(t, map[string]int64{"password": 600}, cfg.Tokens.ExpiresIn, "file lifetimes replace the defaults")
	assert.Equal(t, 24*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, "localhost:6379", cfg.Denylist.Redis.Address)
	assert.Equal(t, "acme", cfg.Users[0].Data["tenant"])
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", cfg.Users[0].PasswordHash, "only ${VAR} is expanded")
	assert.True(t, cfg.ReissueRefreshTokens)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown key",
			yaml:    "listne: x",
			wantErr: "field listne not found",
		},
		{
			name:    "unknown framework",
			yaml:    "framework: echo",
			wantErr: "framework must be one of",
		},
		{
			name:    "bad listen address",
			yaml:    "listen: localhost",
			wantErr: "listen failed validation for hostname_port",
		},
		{
			name:    "stateless without secret",
			yaml:    "tokens: {strategy: stateless}",
			wantErr: "tokens.secret is required",
		},
		{
			name:    "short stateless secret",
			yaml:    "tokens: {strategy: stateless, secret: short}",
			wantErr: "at least 32 characters",
		},
		{
			name:    "sqlite without path",
			yaml:    "storage: {backend: sqlite}",
			wantErr: "storage.sqlite.path is required",
		},
		{
			name:    "valkey without address",
			yaml:    "storage: {backend: valkey}",
			wantErr: "storage.valkey.address is required",
		},
		{
			name:    "denylist without stateless tokens",
			yaml:    "denylist: {backend: memory}",
			wantErr: "denylist requires the stateless token strategy",
		},
		{
			name:    "redis denylist without address",
			yaml:    "tokens: {strategy: stateless, secret: 0123456789abcdef0123456789abcdef}\ndenylist: {backend: redis}",
			wantErr: "denylist.redis.address is required",
		},
		{
			name:    "client without secret",
			yaml:    "clients: [{id: abc}]",
			wantErr: "clients[0].secret is required",
		},
		{
			name:    "client with both secrets",
			yaml:    "clients: [{id: abc, secret: x, secret_hash: y}]",
			wantErr: "cannot be combined",
		},
		{
			name:    "duplicate client",
			yaml:    "clients: [{id: abc, secret: x}, {id: abc, secret: y}]",
			wantErr: `client "abc" is defined twice`,
		},
		{
			name:    "bad redirect uri",
			yaml:    "clients: [{id: abc, secret: x, redirect_uris: [not-a-url]}]",
			wantErr: "must be a valid URL",
		},
		{
			name:    "unknown grant",
			yaml:    "grants: [device_code]",
			wantErr: "grants[0] must be one of",
		},
		{
			name:    "relative endpoint",
			yaml:    "endpoints: {token: token}",
			wantErr: "endpoints.token failed validation for startswith",
		},
		{
			name:    "negative lifetime",
			yaml:    "tokens: {expires_in: {password: -1}}",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("framework: fiber\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, FrameworkFiber, cfg.Framework)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogConfig_NewLogger(t *testing.T) {
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(os.Stderr)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = LogConfig{Level: "loud"}.NewLogger(os.Stderr)
	assert.Error(t, err)
}
