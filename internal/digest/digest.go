// Package digest computes the content hashes that identify snapshots.
//
// A digest is the lowercase hex SHA-256 of the payload bytes. It is a pure
// function of its input: no seed, no salt, stable across restarts and
// machines, so it can name blobs on disk and be typed back by users as a
// prefix.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Size is the length in characters of a hex digest.
const Size = sha256.Size * 2

// Sum returns the hex digest of b.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidPrefix reports whether s could be the start of a digest.
func ValidPrefix(s string) bool {
	if s == "" || len(s) > Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizePrefix lowercases a user supplied prefix.
func NormalizePrefix(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Short abbreviates a digest for display.
func Short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
