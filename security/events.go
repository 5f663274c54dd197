package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a grant issues a new access token
	EventTokenIssued = "token_issued"

	// EventTokenReused is logged when unique-token mode hands out an existing token
	EventTokenReused = "token_reused"

	// EventTokenRefreshed is logged when a refresh token is exchanged
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a refresh token is revoked
	EventTokenRevoked = "token_revoked"

	// Authorization events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeRejected is logged when an authorization code is
	// unknown, already used, expired, or presented by the wrong client
	EventAuthorizationCodeRejected = "authorization_code_rejected"

	// EventAccessDenied is logged when the resource owner denies a request
	EventAccessDenied = "access_denied"

	// EventUserAuthenticated is logged when a site authenticates a resource owner
	EventUserAuthenticated = "user_authenticated"

	// Security violation events

	// EventClientAuthFailure is logged when client authentication fails
	EventClientAuthFailure = "client_auth_failure"

	// EventUserAuthFailure is logged when resource owner authentication fails
	EventUserAuthFailure = "user_auth_failure"

	// EventInvalidRedirect is logged when an unregistered redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a refresh asks for more scopes
	// than were originally granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventThrottled is logged once when events for an identifier start being dropped
	EventThrottled = "audit_throttled"
)
