package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	notificationRetentionDays = 30
	outboxRetentionDays       = 30
	outboxMinAttempts         = 5

	// Pruning is cheap to defer; once a day is enough.
	retentionCadence = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// deleteFunc removes rows older than cutoff and reports how many went.
type deleteFunc func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)

// retentionJob prunes one table past a fixed number of days.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	db        txRunner
	delete    deleteFunc
	retention int
	fields    map[string]any
	now       func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, db txRunner, retention int, del deleteFunc) (*retentionJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if db == nil {
		return nil, fmt.Errorf("db runner required")
	}
	return &retentionJob{
		name:      name,
		logg:      logg,
		db:        db,
		delete:    del,
		retention: retention,
		now:       time.Now,
	}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Cadence() time.Duration { return retentionCadence }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.delete(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	fields := map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}
	for k, v := range j.fields {
		fields[k] = v
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "retention cleanup complete")
	return nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository notificationsCleanupRepo
	Retention  int
}

type notificationsCleanupRepo interface {
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewNotificationCleanupJob prunes read notifications.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = notificationRetentionDays
	}
	return newRetentionJob("notification-cleanup", params.Logger, params.DB, retention, params.Repository.DeleteOlderThan)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxRetentionRepo
	Retention   int
	MinAttempts int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = outboxRetentionDays
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = outboxMinAttempts
	}
	repo := params.Repository
	job, err := newRetentionJob("outbox-retention", params.Logger, params.DB, retention, func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
		return repo.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
	})
	if err != nil {
		return nil, err
	}
	job.fields = map[string]any{"min_attempts": minAttempts}
	return job, nil
}
