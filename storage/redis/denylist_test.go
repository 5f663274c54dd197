package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth2-stateless/internal/storagetest"
)

// testDenylist connects to REDIS_TEST_ADDR and skips when it is unset or
// unreachable. Each test gets its own key prefix.
func testDenylist(t *testing.T) *Denylist {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Skipping test: REDIS_TEST_ADDR is not set")
	}

	d, err := New(context.Background(), Config{
		Address:         addr,
		KeyPrefix:       fmt.Sprintf("oauth2test:%s:", t.Name()),
		ConnectAttempts: 1,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Redis at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := d.client.Keys(ctx, d.prefix+"*").Result()
		if len(keys) > 0 {
			_ = d.client.Del(ctx, keys...).Err()
		}
		_ = d.Close()
	})
	return d
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := New(ctx, Config{Address: "127.0.0.1:1", ConnectAttempts: 2})
	assert.Error(t, err)
}

func TestKey_HashesToken(t *testing.T) {
	d := &Denylist{prefix: DefaultKeyPrefix}

	key := d.key("secret-refresh-token")
	assert.True(t, strings.HasPrefix(key, DefaultKeyPrefix))
	assert.NotContains(t, key, "secret-refresh-token")
	assert.Len(t, strings.TrimPrefix(key, DefaultKeyPrefix), 64)
	assert.Equal(t, key, d.key("secret-refresh-token"))
	assert.NotEqual(t, key, d.key("other-token"))
}

func TestDenylist_Revoke(t *testing.T) {
	d := testDenylist(t)
	ctx := context.Background()

	revoked, err := d.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "token-a", time.Now().Add(time.Hour)))
	revoked, err = d.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := d.client.TTL(ctx, d.key("token-a")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, d.Revoke(ctx, "token-b", time.Time{}))
	ttl, err = d.client.TTL(ctx, d.key("token-b")).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "zero until revokes without expiry")

	require.NoError(t, d.Revoke(ctx, "token-c", time.Now().Add(-time.Minute)))
	revoked, err = d.IsRevoked(ctx, "token-c")
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no entry")

	count, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDenylist_RevokeOnce(t *testing.T) {
	storagetest.RunDenylistTests(t, testDenylist(t))
}

func TestDenylist_RevokeOnceExpired(t *testing.T) {
	d := testDenylist(t)

	ok, err := d.RevokeOnce(context.Background(), "stale", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}
