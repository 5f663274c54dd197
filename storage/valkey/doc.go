// Package valkey provides a Valkey storage backend for registered clients,
// authorization codes and access tokens.
//
// Valkey is wire-compatible with Redis. Use this backend when several
// server instances must share token state.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2:"):
//
//	{prefix}client:{clientID}                   -> record(Client)
//	{prefix}code:{code}                         -> record(AuthorizationCode), TTL until expiry
//	{prefix}token:{accessToken}                 -> record(AccessToken)
//	{prefix}refresh:{refreshToken}              -> accessToken
//	{prefix}unique:{clientID}_{grant}_{userID}  -> accessToken
//
// Token keys live until the later of the access and refresh deadlines.
//
// # Atomic Operations
//
// ConsumeAuthorizationCode uses GETDEL so that a code is handed out at most
// once. SaveToken and DeleteRefreshToken run as Lua scripts so the token
// record and its indexes change together.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth2:",
//	})
//
// # Encryption at Rest
//
// Records are JSON. With an encryptor set they are sealed with AES-256-GCM
// using the record's key as associated data:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
//
// Client secrets are stored as given for literal secrets and as bcrypt
// hashes for secrets created with storage.HashSecret. Predicate secrets
// cannot be stored.
package valkey
