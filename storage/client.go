package storage

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/crypto/bcrypt"
)

// SecretKind tags how a client secret is checked.
type SecretKind int

const (
	// SecretLiteral compares the presented secret to a stored value
	SecretLiteral SecretKind = iota

	// SecretPredicate delegates the decision to a caller-supplied function
	SecretPredicate
)

// String returns the kind name
func (k SecretKind) String() string {
	switch k {
	case SecretLiteral:
		return "literal"
	case SecretPredicate:
		return "predicate"
	default:
		return "unknown"
	}
}

// Secret is a tagged client secret validator. Construct it with
// LiteralSecret, PredicateSecret or HashedSecret.
type Secret struct {
	kind    SecretKind
	literal string
	check   func(candidate string) bool

	// hash is kept for predicate secrets built from a bcrypt hash so that
	// persisting backends can store them again
	hash string
}

// LiteralSecret returns a secret that matches exactly value.
func LiteralSecret(value string) Secret {
	return Secret{kind: SecretLiteral, literal: value}
}

// PredicateSecret returns a secret that matches whenever check returns true.
func PredicateSecret(check func(candidate string) bool) Secret {
	return Secret{kind: SecretPredicate, check: check}
}

// HashedSecret returns a predicate secret backed by a bcrypt hash.
func HashedSecret(hash string) Secret {
	s := PredicateSecret(func(candidate string) bool {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
	})
	s.hash = hash
	return s
}

// HashSecret bcrypt-hashes a plaintext secret into a HashedSecret
func HashSecret(plaintext string) (Secret, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return Secret{}, fmt.Errorf("failed to hash client secret: %w", err)
	}
	return HashedSecret(string(hash)), nil
}

// Persisted secret encodings used by EncodeSecret and DecodeSecret
const (
	SecretEncodingLiteral = "literal"
	SecretEncodingBcrypt  = "bcrypt"
)

// ErrSecretNotPersistable is returned by EncodeSecret for predicate secrets
// that were not built from a bcrypt hash
var ErrSecretNotPersistable = errors.New("predicate secret cannot be persisted")

// EncodeSecret returns a persistable form of s for storage backends.
func EncodeSecret(s Secret) (encoding, value string, err error) {
	switch {
	case s.kind == SecretLiteral:
		return SecretEncodingLiteral, s.literal, nil
	case s.hash != "":
		return SecretEncodingBcrypt, s.hash, nil
	default:
		return "", "", ErrSecretNotPersistable
	}
}

// DecodeSecret reverses EncodeSecret
func DecodeSecret(encoding, value string) (Secret, error) {
	switch encoding {
	case SecretEncodingLiteral:
		return LiteralSecret(value), nil
	case SecretEncodingBcrypt:
		return HashedSecret(value), nil
	default:
		return Secret{}, fmt.Errorf("unknown secret encoding %q", encoding)
	}
}

// Kind returns the secret's tag
func (s Secret) Kind() SecretKind {
	return s.kind
}

// Hash returns the bcrypt hash of a HashedSecret, or "" otherwise.
func (s Secret) Hash() string {
	return s.hash
}

// Literal returns the stored value of a literal secret, or "" otherwise.
func (s Secret) Literal() string {
	if s.kind != SecretLiteral {
		return ""
	}
	return s.literal
}

// Verify reports whether candidate satisfies the secret. A zero Secret
// only accepts the empty string.
func (s Secret) Verify(candidate string) bool {
	switch s.kind {
	case SecretLiteral:
		return subtle.ConstantTimeCompare([]byte(s.literal), []byte(candidate)) == 1
	case SecretPredicate:
		if s.check == nil {
			return false
		}
		return s.check(candidate)
	default:
		return false
	}
}

// Client is a registered OAuth2 client.
type Client struct {
	ClientID     string
	Secret       Secret
	RedirectURIs []string

	// AuthorizedGrants limits the grant types the client may use at the
	// token endpoint. Empty allows every registered grant.
	AuthorizedGrants []string

	// AuthorizedResponseTypes limits the response types the client may use
	// at the authorization endpoint. Empty allows every registered type.
	AuthorizedResponseTypes []string
}

// Clone returns a copy that shares no slices with c
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.AuthorizedGrants = slices.Clone(c.AuthorizedGrants)
	out.AuthorizedResponseTypes = slices.Clone(c.AuthorizedResponseTypes)
	return &out
}

// VerifySecret checks a presented client secret
func (c *Client) VerifySecret(candidate string) bool {
	return c.Secret.Verify(candidate)
}

// RedirectURIAllowed reports whether uri is registered for the client.
// Matching is exact.
func (c *Client) RedirectURIAllowed(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// GrantAllowed reports whether the client may use grantType
func (c *Client) GrantAllowed(grantType string) bool {
	return len(c.AuthorizedGrants) == 0 || slices.Contains(c.AuthorizedGrants, grantType)
}

// ResponseTypeAllowed reports whether the client may use responseType
func (c *Client) ResponseTypeAllowed(responseType string) bool {
	return len(c.AuthorizedResponseTypes) == 0 || slices.Contains(c.AuthorizedResponseTypes, responseType)
}
