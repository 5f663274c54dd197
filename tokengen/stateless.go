package tokengen

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/oauth2-stateless/storage"
)

// Claims is the signed payload of a stateless token. Empty fields are
// omitted from the encoding.
type Claims struct {
	jwt.RegisteredClaims
	Type      string         `json:"type"`
	GrantType string         `json:"grant_type,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Scopes    []string       `json:"scopes,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Payload is a verified stateless token.
type Payload struct {
	Type      string
	GrantType string
	UserID    string
	ClientID  string
	Scopes    []string
	Data      map[string]any

	// IssuedAt is the signing timestamp recovered from the token
	IssuedAt time.Time

	// ID is the random token identifier that makes every token unique
	ID string
}

// Stateless signs tokens as HS256 JWTs so that no server-side record is
// needed to validate them.
type Stateless struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// StatelessOption configures a Stateless strategy
type StatelessOption func(*Stateless)

// WithAccessTTL bounds how long an access token verifies after signing
func WithAccessTTL(d time.Duration) StatelessOption {
	return func(s *Stateless) {
		s.accessTTL = d
	}
}

// WithRefreshTTL bounds how long a refresh token verifies after signing
func WithRefreshTTL(d time.Duration) StatelessOption {
	return func(s *Stateless) {
		s.refreshTTL = d
	}
}

// WithClock overrides the time source used when signing and verifying
func WithClock(now func() time.Time) StatelessOption {
	return func(s *Stateless) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStateless creates a Stateless strategy signing with secret.
func NewStateless(secret []byte, opts ...StatelessOption) (*Stateless, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("stateless token secret cannot be empty")
	}
	s := &Stateless{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate signs an access token. An empty user ID is replaced by a random
// UUID so that tokens minted without an end user never collide.
func (s *Stateless) Generate(p Params) (string, error) {
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}
	return s.sign(TypeAccessToken, p)
}

// RefreshGenerate signs a refresh token
func (s *Stateless) RefreshGenerate(p Params) (string, error) {
	return s.sign(TypeRefreshToken, p)
}

func (s *Stateless) sign(tokenType string, p Params) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
			ID:       uuid.NewString(),
		},
		Type:      tokenType,
		GrantType: p.GrantType,
		UserID:    p.UserID,
		ClientID:  p.ClientID,
		Scopes:    p.Scopes,
		Data:      p.Data,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Unserialize verifies a token's signature and lifetime and returns its
// payload. Every failure wraps storage.ErrAccessTokenNotFound.
func (s *Stateless) Unserialize(token string) (*Payload, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrAccessTokenNotFound, err)
	}
	if !parsed.Valid || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: malformed token", storage.ErrAccessTokenNotFound)
	}

	issuedAt := claims.IssuedAt.Time
	if ttl := s.ttl(claims.Type); ttl > 0 && issuedAt.Add(ttl).Before(s.now()) {
		return nil, fmt.Errorf("%w: %w", storage.ErrAccessTokenNotFound, jwt.ErrTokenExpired)
	}

	return &Payload{
		Type:      claims.Type,
		GrantType: claims.GrantType,
		UserID:    claims.UserID,
		ClientID:  claims.ClientID,
		Scopes:    claims.Scopes,
		Data:      claims.Data,
		IssuedAt:  issuedAt,
		ID:        claims.ID,
	}, nil
}

// ValidateToken unserializes token and checks that it is of the expected
// type. An access token presented as a refresh token fails and vice versa.
func (s *Stateless) ValidateToken(token, expectedType string) (*Payload, error) {
	payload, err := s.Unserialize(token)
	if err != nil {
		return nil, err
	}
	if payload.Type != expectedType {
		return nil, fmt.Errorf("%w: %w", storage.ErrAccessTokenNotFound, ErrTokenTypeMismatch)
	}
	return payload, nil
}

// ExpiresAt returns the verification deadline of a payload, or the zero
// time when its type has no TTL
func (s *Stateless) ExpiresAt(p *Payload) time.Time {
	ttl := s.ttl(p.Type)
	if ttl <= 0 {
		return time.Time{}
	}
	return p.IssuedAt.Add(ttl)
}

func (s *Stateless) ttl(tokenType string) time.Duration {
	switch tokenType {
	case TypeAccessToken:
		return s.accessTTL
	case TypeRefreshToken:
		return s.refreshTTL
	default:
		return 0
	}
}

// ErrTokenTypeMismatch is wrapped when a token of the wrong kind is presented
var ErrTokenTypeMismatch = errors.New("token type mismatch")

var _ Strategy = (*Stateless)(nil)
