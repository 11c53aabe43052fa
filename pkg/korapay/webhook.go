package korapay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const SignatureHeader = "x-korapay-signature"

// WebhookEvent is the notification body Korapay posts for charges and refunds.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeWebhook parses the outer envelope; Data is kept raw for signature checks.
func DecodeWebhook(body []byte) (WebhookEvent, error) {
	var event WebhookEvent
	err := json.Unmarshal(body, &event)
	return event, err
}

// Charge decodes the data object as a charge.
func (e WebhookEvent) Charge() (Charge, error) {
	var charge Charge
	err := json.Unmarshal(e.Data, &charge)
	return charge, err
}

// VerifySignature checks a Korapay webhook. Korapay signs only the data
// object, so the digest is computed over its compact JSON encoding.
func VerifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return false
	}
	event, err := DecodeWebhook(body)
	if err != nil || len(event.Data) == 0 {
		return false
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, event.Data); err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(compact.Bytes())
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
