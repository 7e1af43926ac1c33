package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key identifies a result by image content, answering backend and operation.
// Results from different backends never share a key. The content digest is
// SHA-256 so distinct uploads cannot be served each other's results.
func Key(image []byte, backend, operation string) string {
	sum := sha256.Sum256(image)
	return "skinsight:" + operation + ":" + backend + ":" + hex.EncodeToString(sum[:])
}
