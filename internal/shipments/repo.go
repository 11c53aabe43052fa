package shipments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/internal/repo"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

// Repository persists shipments keyed by (order_item_id, tracking_number).
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, shipment *models.Shipment) (bool, error)
	LockByItemAndTracking(ctx context.Context, itemID uuid.UUID, trackingNumber string) (*models.Shipment, error)
	FindByOrderAndTracking(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Shipment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	SumPostage(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) InsertIfAbsent(ctx context.Context, shipment *models.Shipment) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_item_id"}, {Name: "tracking_number"}},
			DoNothing: true,
		}).
		Create(shipment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) LockByItemAndTracking(ctx context.Context, itemID uuid.UUID, trackingNumber string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.Locked(ctx).
		Where("order_item_id = ? AND tracking_number = ?", itemID, trackingNumber).
		First(&shipment).Error
	return found(&shipment, err)
}

func (r *repository) FindByOrderAndTracking(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.DB(ctx).
		Where("order_id = ? AND tracking_number = ?", orderID, trackingNumber).
		Order("created_at ASC").
		First(&shipment).Error
	return found(&shipment, err)
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.UpdateByID(ctx, &models.Shipment{}, id, updates)
}

// SumPostage totals postage across the order's shipments and reports how
// many shipments carried a postage amount.
func (r *repository) SumPostage(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, int64, error) {
	var rows []models.Shipment
	err := r.DB(ctx).
		Select("postage_amount").
		Where("order_id = ? AND postage_amount IS NOT NULL", orderID).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, row := range rows {
		if row.PostageAmount != nil {
			total = total.Add(*row.PostageAmount)
		}
	}
	return total, int64(len(rows)), nil
}

func found(shipment *models.Shipment, err error) (*models.Shipment, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return shipment, nil
}
