package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body for providers
// without a dedicated signing scheme. A "sha256=" prefix is accepted.
const SignatureHeader = "X-Webhook-Signature"

// Sign returns the signature a sender would put in SignatureHeader.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validHMAC(body []byte, signature, secret string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
