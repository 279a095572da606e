// Package util provides utility functions for the WebhookGate application.
package util

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2; suitable for non-secret identifiers only.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; suitable for non-secret identifiers only.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateSecureHex generates a random hexadecimal string of the specified
// length using crypto/rand. Used for API key plaintext secrets, which are
// credentials and must not come from a seeded PRNG.
func GenerateSecureHex(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	buf := make([]byte, (length+1)/2)
	if _, err := cryptorand.Read(buf); err != nil {
		return "", fmt.Errorf("secure random read failed: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}

// HashAPIKey returns the hex-encoded SHA-256 digest of a plaintext API key.
// Only this digest is ever persisted.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
