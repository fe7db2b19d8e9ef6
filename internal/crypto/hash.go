package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashBytes returns a stable digest used to key cached classifier results.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
