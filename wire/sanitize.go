package wire

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sanitize prepares an error for wire delivery. The digest is a stable
// fingerprint of the full detail; in non-debug delivery the message is
// dropped so internal detail never reaches an untrusted sink.
func Sanitize(detail string, debug bool) (message, digest string) {
	sum := sha256.Sum256([]byte(detail))
	digest = hex.EncodeToString(sum[:8])
	if debug {
		message = detail
	}
	return message, digest
}
