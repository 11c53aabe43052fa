package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository persists payment webhook ledger rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, entry *models.PaymentWebhook) (bool, error)
	IncrementAttempts(ctx context.Context, externalEventID string) error
	FindByExternalID(ctx context.Context, externalEventID string) (*models.PaymentWebhook, error)
	UpdateOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error
}

// Outcome is the terminal or retryable state written back after processing.
type Outcome struct {
	Status      enums.WebhookStatus
	PaymentID   *uuid.UUID
	LastError   *string
	ProcessedAt *time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIfAbsent relies on the unique external_event_id; concurrent inserts of
// the same id resolve to exactly one row without a prior read.
func (r *repository) InsertIfAbsent(ctx context.Context, entry *models.PaymentWebhook) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementAttempts(ctx context.Context, externalEventID string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhook{}).
		Where("external_event_id = ?", externalEventID).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *repository) FindByExternalID(ctx context.Context, externalEventID string) (*models.PaymentWebhook, error) {
	var entry models.PaymentWebhook
	err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) UpdateOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error {
	updates := map[string]any{
		"status":       outcome.Status,
		"last_error":   outcome.LastError,
		"processed_at": outcome.ProcessedAt,
		"updated_at":   time.Now().UTC(),
	}
	if outcome.PaymentID != nil {
		updates["payment_id"] = *outcome.PaymentID
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhook{}).
		Where("id = ?", id).
		Updates(updates).Error
}
