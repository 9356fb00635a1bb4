package cloner

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// ContainsLower reports whether haystack contains needle, ignoring case.
func ContainsLower(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ShortHash returns the first n hex characters of the SHA-1 of raw.
func ShortHash(raw string, n int) string {
	sum := sha1.Sum([]byte(raw))
	h := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
