package cjwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

const (
	SignatureHeader = "X-CJ-Signature"
	TimestampHeader = "X-CJ-Timestamp"
)

// Sign returns the hex HMAC-SHA256 of "<timestamp>.<body>".
func Sign(body []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks the optional signature and the replay window. With no
// secret configured every request passes.
type Verifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

func (v Verifier) Verify(body []byte, timestamp, signature string) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return nil
	}
	timestamp = strings.TrimSpace(timestamp)
	signature = strings.ToLower(strings.TrimSpace(signature))
	if timestamp == "" || signature == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing webhook signature")
	}
	sentAt, err := parseTimestamp(timestamp)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook timestamp")
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if v.Window > 0 {
		skew := now().Sub(sentAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > v.Window {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook timestamp outside replay window")
		}
	}
	expected := Sign(body, timestamp, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	return nil
}

// parseTimestamp accepts unix seconds or milliseconds.
func parseTimestamp(raw string) (time.Time, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value), nil
	}
	return time.Unix(value, 0), nil
}
