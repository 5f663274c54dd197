package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	throttle *Throttle
	now      func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetThrottle limits failure events per client. The auditor takes
// ownership and stops the throttle in Stop.
func (a *Auditor) SetThrottle(t *Throttle) {
	a.throttle = t
}

// Stop releases background resources
func (a *Auditor) Stop() {
	if a.throttle != nil {
		a.throttle.Stop()
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"timestamp", event.Timestamp,
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)
}

// logThrottled logs failure events through the throttle, keyed by client
func (a *Auditor) logThrottled(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}
	if a.throttle != nil {
		allowed, firstDrop := a.throttle.Allow(event.Type + ":" + event.ClientID)
		if !allowed {
			if firstDrop {
				a.LogEvent(ctx, Event{
					Type:     EventThrottled,
					ClientID: event.ClientID,
					Details:  map[string]any{"suppressed_type": event.Type},
				})
			}
			return
		}
	}
	a.LogEvent(ctx, event)
}

// LogTokenIssued logs when a grant issues a token
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID, grantType, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenReused logs when an existing token is returned in unique-token mode
func (a *Auditor) LogTokenReused(ctx context.Context, userID, clientID, grantType string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenReused,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(ctx context.Context, userID, clientID string, rotated bool) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(ctx context.Context, userID, clientID, tokenType string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRevoked,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(ctx context.Context, userID, clientID, scope string) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeRejected logs a failed authorization code exchange
func (a *Auditor) LogCodeRejected(ctx context.Context, clientID, ip, reason string) {
	a.logThrottled(ctx, Event{
		Type:      EventAuthorizationCodeRejected,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAccessDenied logs when the resource owner denies authorization
func (a *Auditor) LogAccessDenied(ctx context.Context, clientID, ip, responseType string) {
	a.LogEvent(ctx, Event{
		Type:      EventAccessDenied,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"response_type": responseType,
		},
	})
}

// LogClientAuthFailure logs a failed client authentication
func (a *Auditor) LogClientAuthFailure(ctx context.Context, clientID, ip, reason string) {
	a.logThrottled(ctx, Event{
		Type:      EventClientAuthFailure,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogUserAuthFailure logs a failed resource owner authentication
func (a *Auditor) LogUserAuthFailure(ctx context.Context, clientID, ip, grantType string) {
	a.logThrottled(ctx, Event{
		Type:      EventUserAuthFailure,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogInvalidRedirect logs an unregistered redirect URI
func (a *Auditor) LogInvalidRedirect(ctx context.Context, clientID, ip, redirectURI string) {
	a.logThrottled(ctx, Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"redirect_uri": redirectURI,
		},
	})
}

// LogScopeEscalation logs a refresh that asked for scopes beyond the original grant
func (a *Auditor) LogScopeEscalation(ctx context.Context, userID, clientID, ip string, requested, granted []string) {
	a.LogEvent(ctx, Event{
		Type:      EventScopeEscalationAttempt,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ip,
		Details: map[string]any{
			"requested": requested,
			"granted":   granted,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
