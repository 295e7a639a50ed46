package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes generated code so repeated content can be detected.
// Line endings and trailing whitespace do not change the result.
func Fingerprint(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	normalized = strings.TrimSpace(strings.Join(lines, "\n"))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
