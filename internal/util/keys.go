package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// StorageKey returns prefix + ":" + the first 32 hex chars of sha256(id).
// ids are binary key encodings, so they are hashed rather than embedded.
func StorageKey(prefix, id string) string {
	sum := sha256.Sum256([]byte(id))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
