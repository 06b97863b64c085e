// Package content holds the text fingerprint helpers shared by ingestion
// and sanitization.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashText returns the hex SHA-256 of the text as-is.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizedHash returns the hex SHA-256 of the text lowercased with all
// whitespace runs collapsed to single spaces. Two documents with the same
// normalized hash are considered duplicates.
func NormalizedHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
