// Package checksum fingerprints document files for change detection and
// optimistic concurrency.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether an If-Match style precondition holds for data.
// Empty and "*" match anything; surrounding quotes and a weak prefix are
// ignored.
func Matches(precondition string, data []byte) bool {
	p := strings.TrimSpace(precondition)
	if p == "" || p == "*" {
		return true
	}
	p = strings.TrimPrefix(p, "W/")
	p = strings.Trim(p, `"`)
	return p == Sum(data)
}
