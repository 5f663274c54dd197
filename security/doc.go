// Package security provides the security plumbing shared by the OAuth2
// engine, its storage backends and its HTTP adapters.
//
// # Audit Logging
//
// Auditor writes structured security events (tokens issued, refreshed and
// revoked, failed client and resource owner authentication, denied
// authorizations) through log/slog. User identifiers are hashed before they
// reach the log. Repeated failures for one client are throttled so a
// credential stuffing run cannot flood the log:
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.SetThrottle(security.NewThrottle(1, 5, logger))
//	defer auditor.Stop()
//
// # Encryption at Rest
//
// Encryptor seals stored records with AES-256-GCM. The storage key is bound
// as associated data, so a ciphertext copied under another key fails to open.
//
// # HTTP Helpers
//
// ClientIP, RequestIDMiddleware and SetSecurityHeaders are used by the
// net/http adapter to enrich requests and harden responses.
package security
