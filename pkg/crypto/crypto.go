// Package crypto bundles the hashing/HMAC/random-token helpers; the
// API-key service uses it to hash keys.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ComputeHMAC256 signs data with secretKey using HMAC-SHA256.
func ComputeHMAC256(toSign []byte, secretKey string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(toSign)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// VerifyHMAC compares a provided signature against the one computed for
// toSign, in constant time.
func VerifyHMAC(secretKey string, toSign []byte, providedSign string) bool {
	expected := ComputeHMAC256(toSign, secretKey)
	return hmac.Equal([]byte(expected), []byte(providedSign))
}

// Sha256Hash returns the raw SHA-256 digest of str. Used to hash API keys
// before persistence — only the digest is ever stored.
func Sha256Hash(str string) []byte {
	sum := sha256.Sum256([]byte(str))
	return sum[:]
}

// Sha256HashHex is Sha256Hash hex-encoded, the form stored in the
// APIKeys repository.
func Sha256HashHex(str string) string {
	return hex.EncodeToString(Sha256Hash(str))
}

// HashPassword bcrypt-hashes a plaintext secret.
func HashPassword(password string) (string, error) {
	pwd, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(pwd), nil
}

// CheckPasswordHash reports whether password matches hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random hex: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
