package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lealtad-backend/internal/app"
	"github.com/angelmondragon/lealtad-backend/internal/cron"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/migrate"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/redis"
)

const lockKeyFormat = "lt:cron-worker:lock:%s:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Env:         cfg.App.Env,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	loyalty, err := app.Build(app.Params{
		Config:   cfg,
		DB:       dbClient,
		Logger:   logg,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire loyalty services", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	var services []*cron.Service

	daily, err := newDailyService(cfg, logg, dbClient, redisClient, loyalty, cronMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create daily cron service", err)
		os.Exit(1)
	}
	services = append(services, daily)

	// With the memory backend each API process keeps its own index.
	if strings.EqualFold(cfg.Codes.IndexBackend, config.IndexBackendRedis) {
		indexSvc, err := newIndexService(cfg, logg, redisClient, loyalty, cronMetrics)
		if err != nil {
			logg.Error(context.Background(), "failed to create code index service", err)
			os.Exit(1)
		}
		services = append(services, indexSvc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"services":    len(services),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range services {
		group.Go(func() error {
			if err := svc.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer)
	})
	if err := group.Wait(); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// newDailyService runs the tier reconcile sweep and outbox retention.
func newDailyService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, loyalty *app.Loyalty, cronMetrics *metrics.CronJobMetrics) (*cron.Service, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Repository:   outbox.NewRepository(dbClient.DB()),
		DLQ:          outbox.NewDLQRepository(dbClient.DB()),
		Metrics:      metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Retention:    cfg.Outbox.RetentionDays,
		DLQRetention: cfg.Outbox.DLQRetentionDays,
		MinAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env, "daily"), 0)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Name:     "daily",
		Logger:   logg,
		Registry: cron.NewRegistry(loyalty.Reconcile, retention),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Loyalty.ReconcileInterval,
	})
}

// newIndexService rebuilds the shared index on every step boundary. The lock
// lives one step so a crashed holder never blocks the next rebuild.
func newIndexService(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, loyalty *app.Loyalty, cronMetrics *metrics.CronJobMetrics) (*cron.Service, error) {
	store, err := app.IndexStore(cfg.Codes, redisClient)
	if err != nil {
		return nil, err
	}
	job, err := loyalty.IndexJob(store, logg, cfg.Codes.CollisionWarnRate)
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env, "code-index"), cfg.Codes.Step())
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Name:     "code-index",
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Codes.Step(),
		Align:    true,
	})
}

func lockKey(env, name string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env, name)
}
