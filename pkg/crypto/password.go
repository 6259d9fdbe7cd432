// Package crypto provides password hashing for user credentials.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2-SHA256 parameters. Changing these invalidates stored hashes.
const (
	hashIterations = 100_000
	saltLength     = 16
	keyLength      = 32
)

// ErrPasswordMismatch indicates the plaintext does not match the stored hash.
var ErrPasswordMismatch = errors.New("crypto: password mismatch")

// HashPassword derives a PBKDF2-SHA256 hash and returns base64(salt || hash).
func HashPassword(plain string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(plain), salt, hashIterations, keyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, hash...)), nil
}

// VerifyPassword recomputes the hash from the embedded salt and compares it
// against the stored value in constant time.
func VerifyPassword(encoded, plain string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode password hash: %w", err)
	}
	if len(decoded) != saltLength+keyLength {
		return errors.New("crypto: malformed password hash")
	}
	salt, expected := decoded[:saltLength], decoded[saltLength:]
	hash := pbkdf2.Key([]byte(plain), salt, hashIterations, keyLength, sha256.New)
	if subtle.ConstantTimeCompare(hash, expected) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
