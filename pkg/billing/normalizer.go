package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Normalizer verifies a provider webhook payload and maps it into a canonical
// Event. Verification always precedes parsing; an unverified payload is
// rejected outright, never partially processed.
//
// Recognized provider event types map to the canonical set; unrecognized
// types pass through verified with their original type so the handler can
// acknowledge and ignore them.
type Normalizer interface {
	Provider() Provider
	Normalize(body []byte, signatureHeader string) (*Event, error)
}

// computeHMAC returns the hex HMAC-SHA256 of message under secret
func computeHMAC(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC compares an expected hex signature in constant time
func verifyHMAC(secret, message []byte, signatureHex string) bool {
	expected, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), expected)
}
