package cron

import (
	"context"
	"fmt"

	cjwebhook "github.com/angelmondragon/orderflow-backend/internal/webhooks/cj"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultReplayBatch = 50

type webhookReplayer interface {
	Replay(ctx context.Context, limit int) (cjwebhook.ReplaySummary, error)
}

type WebhookReplayJobParams struct {
	Logger    *logger.Logger
	Replayer  webhookReplayer
	BatchSize int
}

// NewWebhookReplayJob reprocesses provider webhooks left failed on the ledger.
func NewWebhookReplayJob(params WebhookReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Replayer == nil {
		return nil, fmt.Errorf("webhook replayer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	return &webhookReplayJob{logg: params.Logger, replayer: params.Replayer, batch: batch}, nil
}

type webhookReplayJob struct {
	logg     *logger.Logger
	replayer webhookReplayer
	batch    int
}

func (j *webhookReplayJob) Name() string { return "provider-webhook-replay" }

func (j *webhookReplayJob) Run(ctx context.Context) error {
	summary, err := j.replayer.Replay(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"replayed":  summary.Replayed,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	})
	j.logg.Info(logCtx, "provider webhook replay complete")
	if err != nil {
		return fmt.Errorf("provider webhook replay: %w", err)
	}
	return nil
}
