package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	PubSub   pinger
	Consumer consumer
}

// Service runs the external-state consumer once its dependencies answer.
type Service struct {
	logg     *logger.Logger
	deps     []namedPinger
	consumer consumer
}

type namedPinger struct {
	name string
	p    pinger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Redis == nil:
		return nil, errors.New("redis client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Consumer == nil:
		return nil, errors.New("external state consumer is required")
	}
	return &Service{
		logg: params.Logger,
		deps: []namedPinger{
			{name: "database", p: params.DB},
			{name: "redis", p: params.Redis},
			{name: "pubsub", p: params.PubSub},
		},
		consumer: params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.p.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	err := s.consumer.Run(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctxErr
	}
	if err == nil {
		// Receive only returns cleanly on cancellation.
		return errors.New("external state consumer stopped")
	}
	s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	return err
}
