package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// FulfillmentJob is the single dispatch job for an order item.
type FulfillmentJob struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID       uuid.UUID                  `gorm:"column:order_item_id;type:uuid;not null;uniqueIndex"`
	Provider          enums.FulfillmentProvider  `gorm:"column:provider;type:text;not null"`
	Status            enums.FulfillmentJobStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	ExternalReference *string                    `gorm:"column:external_reference;type:text"`
	LastError         *string                    `gorm:"column:last_error;type:text"`
	DispatchedAt      *time.Time                 `gorm:"column:dispatched_at"`
	FulfilledAt       *time.Time                 `gorm:"column:fulfilled_at"`
	// AppliedAt is set once the latest attempt's effects on the item, order
	// and shipments have committed.
	AppliedAt       *time.Time `gorm:"column:applied_at"`
	RefundReference *string    `gorm:"column:refund_reference;type:text"`
	RefundedAt      *time.Time `gorm:"column:refunded_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *FulfillmentJob) BeforeCreate(*gorm.DB) error {
	ensureID(&j.ID)
	return nil
}

// FulfillmentAttempt is an append-only audit row for one strategy invocation.
type FulfillmentAttempt struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	FulfillmentJobID uuid.UUID       `gorm:"column:fulfillment_job_id;type:uuid;not null;uniqueIndex:fulfillment_attempts_job_number_key,priority:1"`
	AttemptNumber    int             `gorm:"column:attempt_number;not null;uniqueIndex:fulfillment_attempts_job_number_key,priority:2"`
	Status           string          `gorm:"column:status;type:text;not null"`
	RequestPayload   json.RawMessage `gorm:"column:request_payload;type:jsonb"`
	ResponsePayload  json.RawMessage `gorm:"column:response_payload;type:jsonb"`
	Error            *string         `gorm:"column:error;type:text"`
	// Outcome holds the normalized provider result of a dispatch attempt.
	// Settlement attempts leave it empty.
	Outcome   json.RawMessage `gorm:"column:outcome;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (a *FulfillmentAttempt) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
