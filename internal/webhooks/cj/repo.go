package cjwebhook

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

// Repository persists the provider webhook ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, event *models.ProviderWebhookEvent) (bool, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.ProviderWebhookEvent, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	UpdateOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error
	ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.ProviderWebhookEvent, error)
}

// Outcome is written back once a delivery or replay finishes.
type Outcome struct {
	Status      enums.WebhookStatus
	LastError   *string
	ProcessedAt *time.Time
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
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) InsertIfAbsent(ctx context.Context, event *models.ProviderWebhookEvent) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByMessageID(ctx context.Context, messageID string) (*models.ProviderWebhookEvent, error) {
	var event models.ProviderWebhookEvent
	err := r.DB(ctx).Where("message_id = ?", messageID).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).
		Model(&models.ProviderWebhookEvent{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *repository) UpdateOutcome(ctx context.Context, id uuid.UUID, outcome Outcome) error {
	return r.DB(ctx).
		Model(&models.ProviderWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       outcome.Status,
			"last_error":   outcome.LastError,
			"processed_at": outcome.ProcessedAt,
		}).Error
}

// ListReplayable returns failed rows, plus rows stuck in received since
// before staleBefore, that still have attempts left. Oldest first.
func (r *repository) ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int) ([]models.ProviderWebhookEvent, error) {
	var events []models.ProviderWebhookEvent
	query := r.DB(ctx).
		Where("(status = ? OR (status = ? AND updated_at < ?))", enums.WebhookStatusFailed, enums.WebhookStatusReceived, staleBefore).
		Where("attempts < ?", maxAttempts).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}
