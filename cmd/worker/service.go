package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	FulfillmentConsumer  runner
	NotificationConsumer runner
	// MetricsServer is optional; it stops with the consumers.
	MetricsServer runner
}

type named[T any] struct {
	name string
	impl T
}

// Service runs the Pub/Sub consumers side by side once every dependency
// answers a ping.
type Service struct {
	cfg     *config.Config
	logg    *logger.Logger
	deps    []named[pinger]
	runners []named[runner]
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.FulfillmentConsumer == nil:
		return nil, errors.New("fulfillment consumer is required")
	case params.NotificationConsumer == nil:
		return nil, errors.New("notification consumer is required")
	}

	runners := []named[runner]{
		{"fulfillment", params.FulfillmentConsumer},
		{"notifications", params.NotificationConsumer},
	}
	if params.MetricsServer != nil {
		runners = append(runners, named[runner]{"metrics", params.MetricsServer})
	}
	return &Service{
		cfg:  params.Config,
		logg: params.Logger,
		deps: []named[pinger]{
			{"database", params.DB},
			{"redis", params.Redis},
			{"pubsub", params.PubSub},
		},
		runners: runners,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.impl.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or a runner fails; one failing runner
// stops the others.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		group.Go(func() error { return s.runOne(groupCtx, r) })
	}
	err := group.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	}
	return err
}

// runOne treats an early clean return as a failure: a consumer only stops
// when its context does.
func (s *Service) runOne(ctx context.Context, r named[runner]) error {
	err := r.impl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(s.logg.WithField(ctx, "runner", r.name), "runner stopped unexpectedly", err)
		return fmt.Errorf("%s: %w", r.name, err)
	}
	if ctx.Err() == nil {
		return fmt.Errorf("%s exited", r.name)
	}
	return err
}
