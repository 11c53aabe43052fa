package enums

import "fmt"

// NotificationAudience says who a notification is addressed to.
type NotificationAudience string

const (
	NotificationAudienceCustomer NotificationAudience = "customer"
	NotificationAudienceAdmin    NotificationAudience = "admin"
)

// NotificationKind maps to the notifications.kind column.
type NotificationKind string

const (
	NotificationKindOrderPaid         NotificationKind = "order_paid"
	NotificationKindOrderShipped      NotificationKind = "order_shipped"
	NotificationKindOrderDelivered    NotificationKind = "order_delivered"
	NotificationKindFulfillmentFailed NotificationKind = "fulfillment_failed"
	NotificationKindRefundIssued      NotificationKind = "refund_issued"
	NotificationKindWebhookFailed     NotificationKind = "webhook_failed"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindOrderPaid,
	NotificationKindOrderShipped,
	NotificationKindOrderDelivered,
	NotificationKindFulfillmentFailed,
	NotificationKindRefundIssued,
	NotificationKindWebhookFailed,
}

// IsValid checks whether the given kind matches the canonical enum.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw strings into NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
