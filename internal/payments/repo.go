package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/internal/repo"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository persists payments keyed by (provider, provider_reference).
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, payment *models.Payment) (bool, error)
	LockByReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Payment, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPaidByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
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

// InsertIfAbsent relies on the unique (provider, provider_reference) index so
// racing deliveries for the same charge create a single row.
func (r *repository) InsertIfAbsent(ctx context.Context, payment *models.Payment) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_reference"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) LockByReference(ctx context.Context, provider enums.PaymentProvider, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := r.Locked(ctx).
		Where("provider = ? AND provider_reference = ?", provider, reference).
		First(&payment).Error
	return found(&payment, err)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).Where("id = ?", id).First(&payment).Error
	return found(&payment, err)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.Locked(ctx).Where("id = ?", id).First(&payment).Error
	return found(&payment, err)
}

// FindPaidByOrder returns the earliest paid (or partially refunded) payment.
func (r *repository) FindPaidByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.DB(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentStatus{enums.PaymentStatusPaid, enums.PaymentStatusRefunded}).
		Order("paid_at ASC").
		First(&payment).Error
	return found(&payment, err)
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.UpdateByID(ctx, &models.Payment{}, id, updates)
}

func found(payment *models.Payment, err error) (*models.Payment, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}
