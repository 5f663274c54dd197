package tokengen

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// DefaultRandomLength is the default length of RandomBytes tokens
	DefaultRandomLength = 40

	// randomSeedSize is the number of random bytes hashed per token
	randomSeedSize = 100
)

// RandomBytes produces hex tokens from the SHA-512 digest of fresh random
// bytes, truncated to Length characters.
type RandomBytes struct {
	length int
}

// NewRandomBytes creates a RandomBytes strategy. Lengths outside (0, 128]
// fall back to DefaultRandomLength.
func NewRandomBytes(length int) *RandomBytes {
	if length <= 0 || length > sha512.Size*2 {
		length = DefaultRandomLength
	}
	return &RandomBytes{length: length}
}

// Generate returns a new random token
func (r *RandomBytes) Generate(Params) (string, error) {
	seed := make([]byte, randomSeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	sum := sha512.Sum512(seed)
	return hex.EncodeToString(sum[:])[:r.length], nil
}

// RefreshGenerate returns a new random token
func (r *RandomBytes) RefreshGenerate(p Params) (string, error) {
	return r.Generate(p)
}

// UUID produces random (version 4) UUID tokens.
type UUID struct{}

// Generate returns a new UUID token
func (UUID) Generate(Params) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

// RefreshGenerate returns a new UUID token
func (u UUID) RefreshGenerate(p Params) (string, error) {
	return u.Generate(p)
}

// Verifier produces 43 character base64url tokens from 32 random bytes.
type Verifier struct{}

// Generate returns a new verifier token
func (Verifier) Generate(Params) (string, error) {
	return oauth2.GenerateVerifier(), nil
}

// RefreshGenerate returns a new verifier token
func (Verifier) RefreshGenerate(Params) (string, error) {
	return oauth2.GenerateVerifier(), nil
}

// GenerateCode returns a new authorization code. Codes are always random,
// whatever strategy signs the tokens they are later exchanged for.
func GenerateCode() string {
	return oauth2.GenerateVerifier()
}

var (
	_ Strategy = (*RandomBytes)(nil)
	_ Strategy = UUID{}
	_ Strategy = Verifier{}
)
