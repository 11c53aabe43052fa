package enums

// WebhookStatus records how far an inbound provider event got.
type WebhookStatus string

const (
	WebhookStatusReceived  WebhookStatus = "received"
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusRejected  WebhookStatus = "rejected"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// IsValid reports whether the value is a known WebhookStatus.
func (s WebhookStatus) IsValid() bool {
	switch s {
	case WebhookStatusReceived, WebhookStatusProcessed, WebhookStatusRejected, WebhookStatusFailed:
		return true
	}
	return false
}
