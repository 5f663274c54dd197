// Package memory provides an in-memory implementation of the OAuth storage interfaces.
//
// This package implements ClientStore, AuthCodeStore, AccessTokenStore and
// Denylist using Go's built-in maps with mutex protection for thread safety.
// It is suitable for development, testing, and single-instance deployments
// where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic authorization code consumption
//   - Automatic cleanup of expired codes, tokens and denylist entries
//   - Storage spans, operation metrics and size gauges via instrumentation
//
// For multi-instance deployments use the storage/valkey or storage/sqlite
// packages instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	provider, _ := oauth.NewProvider(oauth.Config{}, store, store, store, tokengen.New(nil))
package memory
