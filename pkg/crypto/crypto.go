// Package crypto provides the hashing helpers used to derive stable names.
package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length in bytes of a full digest.
const DigestSize = blake2b.Size256

// Digest returns the BLAKE2b-256 digest of data.
func Digest(data []byte) [DigestSize]byte {
	return blake2b.Sum256(data)
}

// ShortDigest returns the first n bytes of the digest of s, hex-encoded.
// n is clamped to [1, DigestSize].
func ShortDigest(s string, n int) string {
	n = max(1, min(n, DigestSize))
	sum := Digest([]byte(s))
	return hex.EncodeToString(sum[:n])
}
