package models

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// ContentHash computes the BLAKE3 hash of the normalized content as a
// hex-64 string. Normalization makes the hash stable across platforms:
// the same file checked out with CRLF and LF endings hashes identically.
func ContentHash(content string) string {
	sum := blake3.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

func normalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}
