package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

// Service turns domain events into stored customer and admin notifications.
type Service interface {
	Record(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error)
}

type service struct {
	repo Repository
}

// NewService wires notifications dependencies.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo}, nil
}

// Record stores the notification for an event. Events with no audience
// return nil without error.
func (s *service) Record(ctx context.Context, eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	notification, err := Build(eventType, data)
	if err != nil || notification == nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return notification, nil
}

// Build renders the notification for an event without persisting it.
func Build(eventType enums.OutboxEventType, data json.RawMessage) (*models.Notification, error) {
	switch eventType {
	case enums.EventOrderPaid:
		var p payloads.OrderPaidEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return customer(p.OrderID, enums.NotificationKindOrderPaid, "Payment received",
			fmt.Sprintf("We received your payment of %s %s for order %s.", p.Amount.StringFixed(2), p.Currency, p.OrderNumber), data), nil
	case enums.EventOrderShipped:
		var p payloads.OrderShippedEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Part of order %s is on its way", p.OrderNumber)
		if p.Carrier != "" {
			msg += " with " + p.Carrier
		}
		msg += "."
		if p.TrackingNumber != "" {
			msg += " Tracking number " + p.TrackingNumber + "."
		}
		return customer(p.OrderID, enums.NotificationKindOrderShipped, "Your order has shipped", msg, data), nil
	case enums.EventOrderDelivered:
		var p payloads.OrderDeliveredEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return customer(p.OrderID, enums.NotificationKindOrderDelivered, "Order delivered",
			fmt.Sprintf("Order %s has been delivered.", p.OrderNumber), data), nil
	case enums.EventRefundIssued:
		var p payloads.RefundIssuedEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return customer(p.OrderID, enums.NotificationKindRefundIssued, "Refund issued",
			fmt.Sprintf("We refunded %s %s for order %s.", p.Amount.StringFixed(2), p.Currency, p.OrderNumber), data), nil
	case enums.EventFulfillmentFailed:
		var p payloads.FulfillmentFailedEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		orderID := p.OrderID
		return &models.Notification{
			OrderID:  &orderID,
			Audience: enums.NotificationAudienceAdmin,
			Kind:     enums.NotificationKindFulfillmentFailed,
			Title:    "Fulfillment failed",
			Message: strings.TrimSpace(fmt.Sprintf("Item %s (SKU %s) on order %s failed with %s: %s",
				p.OrderItemID, p.SKU, p.OrderNumber, p.Provider, p.Error)),
			Metadata: data,
		}, nil
	case enums.EventProviderWebhookFailed:
		var p payloads.ProviderWebhookFailedEvent
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		return &models.Notification{
			Audience: enums.NotificationAudienceAdmin,
			Kind:     enums.NotificationKindWebhookFailed,
			Title:    "Provider webhook dead-lettered",
			Message: fmt.Sprintf("%s webhook %s (%s) failed after %d attempts: %s",
				p.Provider, p.MessageID, p.EventType, p.Attempts, p.Error),
			Metadata: data,
		}, nil
	}
	return nil, nil
}

func customer(orderID uuid.UUID, kind enums.NotificationKind, title, message string, data json.RawMessage) *models.Notification {
	return &models.Notification{
		OrderID:  &orderID,
		Audience: enums.NotificationAudienceCustomer,
		Kind:     kind,
		Title:    title,
		Message:  message,
		Metadata: data,
	}
}

func decode(data json.RawMessage, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "decode notification payload")
	}
	return nil
}
