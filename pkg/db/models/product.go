package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Product is the catalog row fulfillment needs; the catalog itself lives elsewhere.
type Product struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Name              string                     `gorm:"column:name;type:text;not null"`
	DefaultProvider   *enums.FulfillmentProvider `gorm:"column:default_provider;type:text"`
	ProviderVariantID *string                    `gorm:"column:provider_variant_id;type:text"`
	CreatedAt         time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// Supplier optionally pins a default fulfillment provider for its products.
type Supplier struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Name            string                     `gorm:"column:name;type:text;not null"`
	DefaultProvider *enums.FulfillmentProvider `gorm:"column:default_provider;type:text"`
	CreatedAt       time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Supplier) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
