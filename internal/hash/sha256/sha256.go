// Package sha256 provides SHA-256 content fingerprints and record keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// keyLength is the number of hex characters kept for record keys.
const keyLength = 16

// Hasher implements tracker.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// RecordKey derives the storage key of a tracked URL: the first 16 hex
// characters of its SHA-256 digest.
func RecordKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:keyLength]
}
