package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// TokenRefresher renews a provider access token when it is close to expiry.
type TokenRefresher interface {
	RefreshTokenIfExpiring(ctx context.Context) (bool, error)
}

type TokenRefreshJobParams struct {
	Logger     *logger.Logger
	Refreshers map[string]TokenRefresher
}

// NewTokenRefreshJob keeps provider tokens warm so request paths rarely pay
// for a token exchange.
func NewTokenRefreshJob(params TokenRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Refreshers) == 0 {
		return nil, fmt.Errorf("at least one token refresher required")
	}
	return &tokenRefreshJob{logg: params.Logger, refreshers: params.Refreshers}, nil
}

type tokenRefreshJob struct {
	logg       *logger.Logger
	refreshers map[string]TokenRefresher
}

func (j *tokenRefreshJob) Name() string { return "provider-token-refresh" }

func (j *tokenRefreshJob) Run(ctx context.Context) error {
	var errs error
	for provider, refresher := range j.refreshers {
		providerCtx := j.logg.WithProvider(ctx, provider)
		refreshed, err := refresher.RefreshTokenIfExpiring(providerCtx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", provider, err))
			continue
		}
		if refreshed {
			j.logg.Info(providerCtx, "provider token refreshed")
		}
	}
	return errs
}
