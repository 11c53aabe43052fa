package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment is unique per (provider, provider_reference).
type Payment struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	Provider          enums.PaymentProvider `gorm:"column:provider;type:text;not null;uniqueIndex:payments_provider_reference_key,priority:1"`
	ProviderReference string                `gorm:"column:provider_reference;type:text;not null;uniqueIndex:payments_provider_reference_key,priority:2"`
	Amount            decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string                `gorm:"column:currency;type:text;not null"`
	Status            enums.PaymentStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	IdempotencyKey    *string               `gorm:"column:idempotency_key;type:text"`
	RefundedAmount    decimal.Decimal       `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	PaidAt            *time.Time            `gorm:"column:paid_at"`
	RefundedAt        *time.Time            `gorm:"column:refunded_at"`
	Metadata          json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PaymentWebhook is the idempotency ledger entry for an inbound payment event.
type PaymentWebhook struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:text;not null"`
	ExternalEventID string                `gorm:"column:external_event_id;type:text;not null;uniqueIndex"`
	PaymentID       *uuid.UUID            `gorm:"column:payment_id;type:uuid"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb"`
	Attempts        int                   `gorm:"column:attempts;not null;default:1"`
	Status          enums.WebhookStatus   `gorm:"column:status;type:text;not null;default:'received'"`
	LastError       *string               `gorm:"column:last_error;type:text"`
	ProcessedAt     *time.Time            `gorm:"column:processed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *PaymentWebhook) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
