package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Shipment is keyed by (order_item_id, tracking_number) and accumulates tracking events.
type Shipment struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID        `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID     uuid.UUID        `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex:shipments_item_tracking_key,priority:1"`
	TrackingNumber  string           `gorm:"column:tracking_number;type:text;not null;uniqueIndex:shipments_item_tracking_key,priority:2"`
	Carrier         *string          `gorm:"column:carrier;type:text"`
	TrackingURL     *string          `gorm:"column:tracking_url;type:text"`
	ShippedAt       *time.Time       `gorm:"column:shipped_at"`
	DeliveredAt     *time.Time       `gorm:"column:delivered_at"`
	PostageAmount   *decimal.Decimal `gorm:"column:postage_amount;type:numeric(12,2)"`
	PostageCurrency *string          `gorm:"column:postage_currency;type:text"`
	Events          json.RawMessage  `gorm:"column:events;type:jsonb"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shipment) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
