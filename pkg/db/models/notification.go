package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Notification stores customer and admin notifications raised by order events.
type Notification struct {
	ID        uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   *uuid.UUID                 `gorm:"column:order_id;type:uuid;index"`
	Audience  enums.NotificationAudience `gorm:"column:audience;type:text;not null"`
	Kind      enums.NotificationKind     `gorm:"column:kind;type:text;not null"`
	Title     string                     `gorm:"column:title;type:text;not null"`
	Message   string                     `gorm:"column:message;type:text;not null"`
	Metadata  json.RawMessage            `gorm:"column:metadata;type:jsonb"`
	ReadAt    *time.Time                 `gorm:"column:read_at"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
