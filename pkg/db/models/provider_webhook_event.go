package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ProviderWebhookEvent ledgers every fulfillment-provider delivery and doubles
// as the dead-letter source for replay.
type ProviderWebhookEvent struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Provider    enums.FulfillmentProvider `gorm:"column:provider;type:text;not null"`
	MessageID   string                    `gorm:"column:message_id;type:text;not null;uniqueIndex"`
	EventType   string                    `gorm:"column:event_type;type:text;not null"`
	Payload     json.RawMessage           `gorm:"column:payload;type:jsonb"`
	Status      enums.WebhookStatus       `gorm:"column:status;type:text;not null;default:'received'"`
	Attempts    int                       `gorm:"column:attempts;not null;default:1"`
	LastError   *string                   `gorm:"column:last_error;type:text"`
	ProcessedAt *time.Time                `gorm:"column:processed_at"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *ProviderWebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
