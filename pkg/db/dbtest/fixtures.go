package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// ItemSeed describes one order line for SeedOrder.
type ItemSeed struct {
	SKU       string
	LineTotal string
	Provider  *enums.FulfillmentProvider
	VariantID string
	Status    enums.ItemFulfillmentStatus
}

// SeedOrder inserts an order with its items. Each item gets its own product;
// when VariantID is set the product carries it as the provider variant.
func SeedOrder(t *testing.T, conn *gorm.DB, number, grandTotal, currency string, items ...ItemSeed) (models.Order, []models.OrderItem) {
	t.Helper()
	order := models.Order{
		ID:            uuid.New(),
		Number:        number,
		Currency:      currency,
		Subtotal:      decimal.RequireFromString(grandTotal),
		ShippingTotal: decimal.Zero,
		GrandTotal:    decimal.RequireFromString(grandTotal),
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.OrderPaymentStatusPending,
		CustomerEmail: "buyer@example.com",
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	created := make([]models.OrderItem, 0, len(items))
	for _, seed := range items {
		product := models.Product{ID: uuid.New(), Name: "product " + seed.SKU}
		if seed.VariantID != "" {
			vid := seed.VariantID
			product.ProviderVariantID = &vid
		}
		if err := conn.Create(&product).Error; err != nil {
			t.Fatalf("seed product: %v", err)
		}
		status := seed.Status
		if status == "" {
			status = enums.ItemFulfillmentPending
		}
		lineTotal := decimal.RequireFromString(seed.LineTotal)
		item := models.OrderItem{
			ID:                  uuid.New(),
			OrderID:             order.ID,
			ProductID:           &product.ID,
			FulfillmentProvider: seed.Provider,
			SKU:                 seed.SKU,
			Name:                product.Name,
			Quantity:            1,
			UnitPrice:           lineTotal,
			LineTotal:           lineTotal,
			FulfillmentStatus:   status,
		}
		if err := conn.Create(&item).Error; err != nil {
			t.Fatalf("seed order item: %v", err)
		}
		created = append(created, item)
	}
	return order, created
}

// ProviderPtr is a convenience for ItemSeed.Provider.
func ProviderPtr(p enums.FulfillmentProvider) *enums.FulfillmentProvider {
	return &p
}
