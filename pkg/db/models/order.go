package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Order is created by checkout and advanced by payment, fulfillment and tracking events.
type Order struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Number              string                   `gorm:"column:number;type:text;not null;uniqueIndex"`
	Currency            string                   `gorm:"column:currency;type:text;not null"`
	Subtotal            decimal.Decimal          `gorm:"column:subtotal;type:numeric(12,2);not null;default:0"`
	TaxTotal            decimal.Decimal          `gorm:"column:tax_total;type:numeric(12,2);not null;default:0"`
	ShippingTotal       decimal.Decimal          `gorm:"column:shipping_total;type:numeric(12,2);not null;default:0"`
	GrandTotal          decimal.Decimal          `gorm:"column:grand_total;type:numeric(12,2);not null"`
	Status              enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus       enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	ShippingTotalActual *decimal.Decimal         `gorm:"column:shipping_total_actual;type:numeric(12,2)"`
	ShippingVariance    *decimal.Decimal         `gorm:"column:shipping_variance;type:numeric(12,2)"`
	CustomerEmail       string                   `gorm:"column:customer_email;type:text"`
	ShippingAddress     []byte                   `gorm:"column:shipping_address;type:jsonb"`
	PaidAt              *time.Time               `gorm:"column:paid_at"`
	FulfilledAt         *time.Time               `gorm:"column:fulfilled_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem is a single order line with its own fulfillment lifecycle.
type OrderItem struct {
	ID                  uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID                   `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID           *uuid.UUID                  `gorm:"column:product_id;type:uuid"`
	SupplierID          *uuid.UUID                  `gorm:"column:supplier_id;type:uuid"`
	FulfillmentProvider *enums.FulfillmentProvider  `gorm:"column:fulfillment_provider;type:text"`
	SKU                 string                      `gorm:"column:sku;type:text"`
	Name                string                      `gorm:"column:name;type:text"`
	Quantity            int                         `gorm:"column:quantity;not null;default:1"`
	UnitPrice           decimal.Decimal             `gorm:"column:unit_price;type:numeric(12,2);not null"`
	LineTotal           decimal.Decimal             `gorm:"column:line_total;type:numeric(12,2);not null"`
	FulfillmentStatus   enums.ItemFulfillmentStatus `gorm:"column:fulfillment_status;type:text;not null;default:'pending'"`
	CreatedAt           time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                   `gorm:"column:updated_at;autoUpdateTime"`

	Product  *Product  `gorm:"foreignKey:ProductID"`
	Supplier *Supplier `gorm:"foreignKey:SupplierID"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
