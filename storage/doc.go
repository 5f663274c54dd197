// Package storage defines the value objects and store contracts the OAuth2
// engine persists through.
//
// The contracts are deliberately narrow:
//   - ClientStore: resolves registered clients
//   - AuthCodeStore: saves, consumes and deletes authorization codes
//   - AccessTokenStore: saves tokens and looks them up by access token,
//     refresh token, or (client, grant type, user)
//   - Denylist: records early revocation for stores without server-side state
//
// Backends return ErrClientNotFound, ErrAuthCodeNotFound or
// ErrAccessTokenNotFound for absent records. Expired records are reported
// exactly like absent ones. Every other error is an unexpected failure.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/sqlite: embedded SQL storage with schema migrations
//   - storage/stateless: signed tokens verified on presentation
//   - storage/redis: a Redis-backed Denylist
package storage
