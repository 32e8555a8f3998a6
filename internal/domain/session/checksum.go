package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum computes the integrity hash over an auth state. The hash covers
// both the credential bytes and the format version so the same input always
// produces the same checksum, keeping retried writes idempotent.
func Checksum(auth AuthState) string {
	h := sha256.New()
	h.Write([]byte(auth.Version))
	h.Write([]byte{0})
	h.Write(auth.CredentialBlob)
	return hex.EncodeToString(h.Sum(nil))
}
