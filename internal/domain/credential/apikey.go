// Package credential generates and verifies source API credentials.
//
// Keys are high-entropy opaque strings with a fixed printable prefix; only a
// salted Argon2id hash is ever stored. Verification is constant-time relative
// to the secret length.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/alexedwards/argon2id"
)

const (
	// KeyPrefix is the fixed printable prefix of every source API key.
	KeyPrefix = "irm_"

	// keyRandomBytes yields 43 URL-safe characters of CSPRNG output,
	// above the 32-character floor.
	keyRandomBytes = 32
)

// hashParams are OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1.
var hashParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// dummyHash is compared against when no source matches the presented key, so
// unknown-key and bad-secret rejections fall in the same timing class.
var dummyHash = func() string {
	h, err := argon2id.CreateHash("driftline-timing-equalizer", hashParams)
	if err != nil {
		panic(fmt.Sprintf("credential: dummy hash: %v", err))
	}
	return h
}()

// Generate returns a new plaintext API key: KeyPrefix followed by 43 URL-safe
// characters from a cryptographically secure source.
func Generate() (string, error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash returns an Argon2id hash of the plaintext key in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func Hash(plaintext string) (string, error) {
	return argon2id.CreateHash(plaintext, hashParams)
}

// Verify compares a presented plaintext key against a stored hash.
// Returns (true, nil) on match, (false, nil) on mismatch.
func Verify(plaintext, storedHash string) (bool, error) {
	return safeCompare(plaintext, storedHash)
}

// BurnVerification performs one hash comparison against a throwaway hash.
// Called on the unknown-source path of credential verification to keep
// 401 responses in a uniform timing class.
func BurnVerification(plaintext string) {
	_, _ = safeCompare(plaintext, dummyHash)
}

// safeCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed hashes with invalid
// parameters; those become errors instead.
func safeCompare(plaintext, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(plaintext, storedHash)
}
