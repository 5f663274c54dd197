package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-stateless/security"
)

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashSecretCmd(t *testing.T) {
	out, err := runCommand(t, "", "hash-secret", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))

	out, err = runCommand(t, "from-stdin\n", "hash-secret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-stdin")))

	_, err = runCommand(t, "", "hash-secret")
	assert.EqualError(t, err, "secret must not be empty")
}

func TestGenSecretCmd(t *testing.T) {
	out, err := runCommand(t, "", "gen-secret")
	require.NoError(t, err)

	key, err := security.KeyFromBase64(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCommand(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "oauth2-server version 1.2.3\n", out)

	out, err = runCommand(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "oauth2-server version 1.2.3\n", out)
}

func TestServeCmd_InvalidConfig(t *testing.T) {
	_, err := runCommand(t, "", "serve", "--framework", "echo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "framework must be one of")
}
