// Package auth provides authentication utilities for API keys.
package auth

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Key format: 43 symbols drawn from KeyAlphabet (~258 bits of entropy).
// Example: Qm3v_0r7ZkYd-2LwXbN8pTfA1sHcJ9eGuRiV5oKyM4n
const (
	KeyLength   = 43
	KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

// GenerateAPIKey returns a new random API key.
// len(KeyAlphabet) divides 256, so masking a random byte picks a symbol uniformly.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	var sb strings.Builder
	sb.Grow(KeyLength)
	for _, b := range buf {
		sb.WriteByte(KeyAlphabet[b&63])
	}

	return sb.String(), nil
}

// ValidateKeyFormat checks if the key has the length and alphabet of an issued key.
func ValidateKeyFormat(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(KeyAlphabet, key[i]) < 0 {
			return false
		}
	}
	return true
}
