// Package sha256 names exported artifacts by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements cloner.Hasher. A positive size truncates the hex digest.
type Hasher struct {
	size int
}

// New returns a Hasher producing the full 64-character digest.
func New() *Hasher {
	return &Hasher{}
}

// NewShort returns a Hasher whose digests are cut to size hex characters.
func NewShort(size int) *Hasher {
	return &Hasher{size: size}
}

// Hash returns the hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.size > 0 && h.size < len(digest) {
		digest = digest[:h.size]
	}
	return digest, nil
}
