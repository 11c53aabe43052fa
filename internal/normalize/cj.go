package normalize

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// CJ webhook message types.
const (
	CJTypeOrder    = "ORDER"
	CJTypeLogistic = "LOGISTIC"
)

// CJWebhook is the envelope CJ Dropshipping posts for order and logistics
// updates.
type CJWebhook struct {
	MessageID   string          `json:"messageId"`
	Type        string          `json:"type"`
	MessageType string          `json:"messageType"`
	Params      json.RawMessage `json:"params"`
}

type cjOrderParams struct {
	CJOrderID    string `json:"cjOrderId"`
	OrderID      string `json:"orderId"`
	OrderNumber  string `json:"orderNumber"`
	OrderStatus  string `json:"orderStatus"`
	LogisticName string `json:"logisticName"`
	TrackNumber  string `json:"trackNumber"`
	TrackingURL  string `json:"trackingUrl"`
}

type cjLogisticParams struct {
	OrderID        string            `json:"orderId"`
	OrderNumber    string            `json:"orderNumber"`
	LogisticName   string            `json:"logisticName"`
	TrackingNumber string            `json:"trackingNumber"`
	TrackingStatus json.RawMessage   `json:"trackingStatus"`
	TrackingURL    string            `json:"trackingUrl"`
	Events         []cjTrackingEvent `json:"logisticsTrackEvents"`
}

type cjTrackingEvent struct {
	Status    string `json:"status"`
	Activity  string `json:"activity"`
	EventTime string `json:"eventTime"`
	Location  string `json:"location"`
}

// FulfillmentUpdate is the canonical fulfillment-provider notification.
type FulfillmentUpdate struct {
	Provider        enums.FulfillmentProvider
	MessageID       string
	EventType       string
	ProviderOrderID string
	// OrderReference is the merchant order number sent at dispatch time.
	OrderReference string
	Status         string
	Tracking       TrackingUpdate
}

// HasTracking reports whether the update carries a tracking number.
func (u FulfillmentUpdate) HasTracking() bool {
	return strings.TrimSpace(u.Tracking.TrackingNumber) != ""
}

// DecodeCJ parses only the envelope. It is enough to ledger the message
// before the params are interpreted.
func DecodeCJ(body []byte) (CJWebhook, error) {
	var hook CJWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return CJWebhook{}, malformed(err, "decode cj webhook")
	}
	hook.MessageID = strings.TrimSpace(hook.MessageID)
	hook.Type = strings.ToUpper(strings.TrimSpace(hook.Type))
	if hook.MessageID == "" {
		return CJWebhook{}, malformed(nil, "cj webhook missing messageId")
	}
	return hook, nil
}

// CJ normalizes an ORDER or LOGISTIC webhook. Other message types return
// ErrUnsupportedEvent.
func CJ(hook CJWebhook) (FulfillmentUpdate, error) {
	update := FulfillmentUpdate{
		Provider:  enums.FulfillmentProviderCJ,
		MessageID: hook.MessageID,
		EventType: hook.Type,
	}
	switch hook.Type {
	case CJTypeOrder:
		var params cjOrderParams
		if err := json.Unmarshal(hook.Params, &params); err != nil {
			return FulfillmentUpdate{}, malformed(err, "decode cj order params")
		}
		update.ProviderOrderID = firstNonEmpty(params.CJOrderID, params.OrderID)
		update.OrderReference = firstNonEmpty(params.OrderNumber)
		update.Status = strings.ToUpper(firstNonEmpty(params.OrderStatus))
		update.Tracking = TrackingUpdate{
			TrackingNumber: firstNonEmpty(params.TrackNumber),
			Carrier:        firstNonEmpty(params.LogisticName),
			TrackingURL:    firstNonEmpty(params.TrackingURL),
			Status:         cjOrderTrackingStatus(update.Status),
		}
	case CJTypeLogistic:
		var params cjLogisticParams
		if err := json.Unmarshal(hook.Params, &params); err != nil {
			return FulfillmentUpdate{}, malformed(err, "decode cj logistic params")
		}
		update.ProviderOrderID = firstNonEmpty(params.OrderID)
		update.OrderReference = firstNonEmpty(params.OrderNumber)
		update.Status = strings.Trim(strings.TrimSpace(string(params.TrackingStatus)), `"`)
		update.Tracking = TrackingUpdate{
			TrackingNumber: firstNonEmpty(params.TrackingNumber),
			Carrier:        firstNonEmpty(params.LogisticName),
			TrackingURL:    firstNonEmpty(params.TrackingURL),
			Status:         cjLogisticTrackingStatus(update.Status),
		}
		for _, event := range params.Events {
			occurred, _ := optionalTime(event.EventTime)
			update.Tracking.Events = append(update.Tracking.Events, TrackingEvent{
				StatusCode:  firstNonEmpty(event.Status),
				OccurredAt:  occurred,
				Description: firstNonEmpty(event.Activity),
				Location:    firstNonEmpty(event.Location),
			})
		}
	default:
		return FulfillmentUpdate{}, ErrUnsupportedEvent
	}
	if update.ProviderOrderID == "" && update.OrderReference == "" {
		return FulfillmentUpdate{}, malformed(nil, "cj webhook missing order identifiers")
	}
	return update, nil
}

// Tracking statuses understood by the shipment ingestor.
const (
	TrackingStatusShipped   = "shipped"
	TrackingStatusDelivered = "delivered"
)

func cjOrderTrackingStatus(orderStatus string) string {
	switch orderStatus {
	case "SHIPPED", "DISPATCHED":
		return TrackingStatusShipped
	case "DELIVERED", "COMPLETED":
		return TrackingStatusDelivered
	}
	return ""
}

// CJ logistic tracking status codes: 1 in transit, 12 delivered.
func cjLogisticTrackingStatus(code string) string {
	switch code {
	case "12":
		return TrackingStatusDelivered
	case "":
		return ""
	}
	return TrackingStatusShipped
}
