package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// Preview cuts payload to at most maxBytes for logging, backing off to a
// rune boundary when the payload is valid UTF-8. digest is always the hex
// sha256 of the full payload so the original can be matched later.
func Preview(payload []byte, maxBytes int) (out []byte, truncated bool, size int, digest string) {
	sum := sha256.Sum256(payload)
	digest = hex.EncodeToString(sum[:])
	if maxBytes <= 0 || len(payload) <= maxBytes {
		return payload, false, len(payload), digest
	}
	cut := maxBytes
	if utf8.Valid(payload) {
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
	}
	return payload[:cut], true, len(payload), digest
}
