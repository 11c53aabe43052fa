package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/repo"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository reads orders and applies the narrow set of writes the
// reconciliation flows perform. Catalog rows are read-only here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByNumber(ctx context.Context, number string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status enums.ItemFulfillmentStatus) error
}

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

// FindByNumber returns nil when no order carries the number.
func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).Where("number = ?", number).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByID returns nil when the order does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockByID loads the order with a row lock held until the transaction ends.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.Locked(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.DB(ctx).
		Preload("Product").
		Preload("Supplier").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// FindItem returns nil when the item does not exist.
func (r *repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.DB(ctx).
		Preload("Product").
		Preload("Supplier").
		Where("id = ?", itemID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.UpdateByID(ctx, &models.Order{}, id, updates)
}

func (r *repository) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, status enums.ItemFulfillmentStatus) error {
	return r.DB(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Update("fulfillment_status", status).Error
}
