package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/internal/repo"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository persists fulfillment jobs and their attempts. Attempts are
// append-only; there is no update path for them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIfAbsent(ctx context.Context, job *models.FulfillmentJob) (bool, error)
	FindByItem(ctx context.Context, itemID uuid.UUID) (*models.FulfillmentJob, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error)
	FindByExternalReference(ctx context.Context, reference string) (*models.FulfillmentJob, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.FulfillmentJob, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	ClaimDispatch(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error)
	NextAttemptNumber(ctx context.Context, jobID uuid.UUID) (int, error)
	AppendAttempt(ctx context.Context, attempt *models.FulfillmentAttempt) error
	LatestOutcome(ctx context.Context, jobID uuid.UUID) (*models.FulfillmentAttempt, error)
	ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.FulfillmentAttempt, error)
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

// CreateIfAbsent inserts the job unless the item already has one.
func (r *repository) CreateIfAbsent(ctx context.Context, job *models.FulfillmentJob) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_item_id"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByItem(ctx context.Context, itemID uuid.UUID) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.DB(ctx).Where("order_item_id = ?", itemID).First(&job).Error
	return foundJob(&job, err)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.DB(ctx).Where("id = ?", id).First(&job).Error
	return foundJob(&job, err)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.Locked(ctx).Where("id = ?", id).First(&job).Error
	return foundJob(&job, err)
}

func (r *repository) FindByExternalReference(ctx context.Context, reference string) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.DB(ctx).Where("external_reference = ?", reference).Order("created_at ASC").First(&job).Error
	return foundJob(&job, err)
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.FulfillmentJob, error) {
	var jobs []models.FulfillmentJob
	err := r.DB(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.UpdateByID(ctx, &models.FulfillmentJob{}, id, updates)
}

// ClaimDispatch stamps dispatched_at on a pending job that has not been
// applied, unless another dispatcher stamped it after staleBefore.
func (r *repository) ClaimDispatch(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.FulfillmentJob{}).
		Where("id = ? AND status = ? AND applied_at IS NULL", id, enums.FulfillmentJobPending).
		Where("dispatched_at IS NULL OR dispatched_at < ?", staleBefore).
		Update("dispatched_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) NextAttemptNumber(ctx context.Context, jobID uuid.UUID) (int, error) {
	var last int
	err := r.DB(ctx).
		Model(&models.FulfillmentAttempt{}).
		Where("fulfillment_job_id = ?", jobID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *repository) AppendAttempt(ctx context.Context, attempt *models.FulfillmentAttempt) error {
	return r.DB(ctx).Create(attempt).Error
}

// LatestOutcome returns the newest attempt that recorded a provider result.
func (r *repository) LatestOutcome(ctx context.Context, jobID uuid.UUID) (*models.FulfillmentAttempt, error) {
	var attempt models.FulfillmentAttempt
	err := r.DB(ctx).
		Where("fulfillment_job_id = ? AND outcome IS NOT NULL", jobID).
		Order("attempt_number DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) ListAttempts(ctx context.Context, jobID uuid.UUID) ([]models.FulfillmentAttempt, error) {
	var attempts []models.FulfillmentAttempt
	err := r.DB(ctx).Where("fulfillment_job_id = ?", jobID).Order("attempt_number ASC").Find(&attempts).Error
	return attempts, err
}

func foundJob(job *models.FulfillmentJob, err error) (*models.FulfillmentJob, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}
