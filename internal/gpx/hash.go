package gpx

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var interTagWhitespace = regexp.MustCompile(`>\s+<`)

// ContentHash returns the sha256 hex digest of the normalized document, so
// that re-exports differing only in pretty-printing hash identically. The
// original bytes, not the normalized form, are what gets stored.
func ContentHash(content []byte) string {
	normalized := strings.TrimSpace(interTagWhitespace.ReplaceAllString(string(content), "><"))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
