// Package pipeline turns a meeting transcript into a validated, cycle-annotated
// task graph and persists it once per distinct transcript.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 of the transcript bytes. It is the
// idempotency key and the storage key, so the algorithm must not change.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
