package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// Fixture values shared by tests across packages
const (
	TestClientID     = "test-client-id"
	TestClientSecret = "test-client-secret"
	TestRedirectURI  = "https://example.com/callback"
	TestUserID       = "test-user-123"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the mock time to the given instant
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateTestClient creates a confidential test client with a literal secret
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:     TestClientID,
		Secret:       storage.LiteralSecret(TestClientSecret),
		RedirectURIs: []string{TestRedirectURI},
	}
}

// GenerateTestAuthorizationCode creates a test authorization code
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    TestClientID,
		RedirectURI: TestRedirectURI,
		Scopes:      []string{"read", "write"},
		UserID:      TestUserID,
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		Data:        map[string]any{"tenant": "acme"},
	}
}

// GenerateTestAccessToken creates a test access token with a refresh token
func GenerateTestAccessToken() *storage.AccessToken {
	return &storage.AccessToken{
		Token:            GenerateRandomString(40),
		TokenType:        storage.TokenTypeBearer,
		RefreshToken:     GenerateRandomString(40),
		ClientID:         TestClientID,
		GrantType:        "password",
		UserID:           TestUserID,
		Scopes:           []string{"read"},
		ExpiresAt:        time.Now().Add(time.Hour),
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		Data:             map[string]any{"tenant": "acme"},
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}
