// Package xhash implements the truncated-SHA-256 primitive used throughout
// the urpc wire protocol for message authentication and key derivation.
package xhash

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Size is the length in bytes of a truncated hash produced by Sum.
const Size = 16

// Sum returns the first Size bytes of SHA-256(parts[0] || parts[1] || ...).
// It is used both to authenticate frames and to roll session keys, so the
// concatenation order matters and must match on both peers.
func Sum(parts ...[]byte) [Size]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	full := h.Sum(nil)

	var out [Size]byte
	copy(out[:], full[:Size])
	return out
}

// Equal reports whether a and b are equal, in constant time. Auth tags and
// other secret-derived values must always be compared this way; a timing
// leak here lets an attacker forge frames byte by byte.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
