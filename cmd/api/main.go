package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lealtad-backend/api/routes"
	"github.com/angelmondragon/lealtad-backend/internal/app"
	"github.com/angelmondragon/lealtad-backend/internal/cron"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/migrate"
	"github.com/angelmondragon/lealtad-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	index, err := app.IndexStore(cfg.Codes, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create code index", err)
		os.Exit(1)
	}
	resolver, err := loyalty.Resolver(index, logg, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create code resolver", err)
		os.Exit(1)
	}

	// The memory index belongs to this process, so this process rebuilds it.
	var indexLoop *cron.Service
	if strings.EqualFold(cfg.Codes.IndexBackend, config.IndexBackendMemory) {
		job, err := loyalty.IndexJob(index, logg, cfg.Codes.CollisionWarnRate)
		if err != nil {
			logg.Error(context.Background(), "failed to create code index job", err)
			os.Exit(1)
		}
		indexLoop, err = cron.NewService(cron.ServiceParams{
			Name:     "code-index",
			Logger:   logg,
			Registry: cron.NewRegistry(job),
			Lock:     &cron.LocalLock{},
			Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
			Interval: cfg.Codes.Step(),
			Align:    true,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create code index loop", err)
			os.Exit(1)
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":          addr,
		"index_backend": cfg.Codes.IndexBackend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		// Keyed handlers are cancelled at RequestTimeout; leave room to write the response.
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Idempotency: redisClient,
			RateStore:   redisClient,
			Metrics:     metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
			Gatherer:    prometheus.DefaultGatherer,
			Resolver:    resolver,
			Customers:   loyalty.Customers,
			Eligibility: loyalty.Eligibility,
			Visits:      loyalty.Visits,
			Redemptions: loyalty.Redemptions,
		}),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if indexLoop != nil {
		group.Go(func() error {
			if err := indexLoop.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}
