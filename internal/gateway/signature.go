package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignPayload computes the hex HMAC-SHA256 the gateway attaches to
// webhook deliveries.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against its signature header
// in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
