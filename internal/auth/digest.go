package auth

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// KeyHasher derives the digest that stores index API keys by.
// Plaintext keys never reach a store, a cache or a log line.
type KeyHasher struct {
	secret []byte
}

// NewKeyHasher creates a KeyHasher keyed with secret.
// An empty secret yields plain BLAKE2b-256; secrets longer than 64 bytes are rejected.
func NewKeyHasher(secret []byte) (*KeyHasher, error) {
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("key hash secret must be at most %d bytes, got %d", blake2b.Size, len(secret))
	}
	if _, err := blake2b.New256(secret); err != nil {
		return nil, fmt.Errorf("init blake2b: %w", err)
	}
	return &KeyHasher{secret: secret}, nil
}

// Digest returns the hex encoded keyed BLAKE2b-256 hash of key.
func (h *KeyHasher) Digest(key string) string {
	// Secret length was validated in NewKeyHasher.
	mac, _ := blake2b.New256(h.secret)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// ShortDigest returns a 12 char prefix of a digest, safe for log lines.
func ShortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}
