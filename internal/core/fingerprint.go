package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the lowercase hex SHA-256 digest of content. The input
// is hashed exactly as captured: two snapshots differing only in whitespace or
// an embedded timestamp produce different fingerprints.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
