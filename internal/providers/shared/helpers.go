package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FallbackDelivery returns delivery, or a short body digest when the provider
// did not send a delivery id, so log lines for one request stay correlated.
func FallbackDelivery(delivery string, body []byte) string {
	delivery = strings.TrimSpace(delivery)
	if delivery != "" {
		return delivery
	}
	sum := sha256.Sum256(body)
	return "body-" + hex.EncodeToString(sum[:8])
}

// LastSegment returns the part of ref after the final '/', so
// "refs/heads/feature/x" becomes "x".
func LastSegment(ref string) string {
	if idx := strings.LastIndexByte(ref, '/'); idx >= 0 {
		return ref[idx+1:]
	}
	return ref
}

func NormalizeEventType(in string) string {
	return strings.TrimSpace(in)
}
