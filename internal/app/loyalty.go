// Package app assembles the loyalty services shared by the API, the cron
// worker and the external-state consumer.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/codeindex"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/identity"
	"github.com/angelmondragon/lealtad-backend/internal/redemptions"
	"github.com/angelmondragon/lealtad-backend/internal/tiers"
	"github.com/angelmondragon/lealtad-backend/internal/venues"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/db"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox"
	"github.com/angelmondragon/lealtad-backend/pkg/rotatingcode"
)

const redemptionRetries = 3

type Params struct {
	Config   *config.Config
	DB       *db.Client
	Logger   *logger.Logger
	Registry prometheus.Registerer
	Clock    func() time.Time
}

// Loyalty holds every wired service. Fields a binary does not use are
// cheap to build and are left alone.
type Loyalty struct {
	Generator   *rotatingcode.Generator
	Location    *time.Location
	Customers   customers.Service
	Eligibility benefits.Service
	Visits      visits.Service
	Evaluator   *tiers.Evaluator
	Redemptions *redemptions.Coordinator
	Reconcile   *tiers.ReconcileJob
	IndexBuild  *codeindex.Builder

	Metrics      *metrics.LoyaltyMetrics
	IndexMetrics *metrics.CodeIndexMetrics

	custRepo *customers.Repository
}

func Build(p Params) (*Loyalty, error) {
	if p.Config == nil || p.DB == nil {
		return nil, errors.New("config and database are required")
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	cfg := p.Config

	gen, err := NewGenerator(cfg.Codes)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Loyalty.Location()
	if err != nil {
		return nil, fmt.Errorf("load loyalty timezone: %w", err)
	}

	conn := p.DB.DB()
	custRepo := customers.NewRepository(conn)
	tierRepo := tiers.NewRepository(conn)
	visitRepo := visits.NewRepository(conn)
	venueRepo := venues.NewRepository(conn)
	benefitRepo := benefits.NewRepository(conn)
	redemptionRepo := redemptions.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	l := &Loyalty{
		Generator:    gen,
		Location:     loc,
		Metrics:      metrics.NewLoyaltyMetrics(p.Registry),
		IndexMetrics: metrics.NewCodeIndexMetrics(p.Registry),
		custRepo:     custRepo,
	}

	if l.Evaluator, err = tiers.NewEvaluator(tiers.EvaluatorParams{
		DB:        p.DB,
		Customers: custRepo,
		Tiers:     tierRepo,
		Ledger:    visitRepo,
		Outbox:    emitter,
		Metrics:   l.Metrics,
		Logger:    logg,
		Clock:     p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("tier evaluator: %w", err)
	}

	if l.Customers, err = customers.NewService(customers.ServiceParams{
		Repo:      custRepo,
		Tiers:     tierRepo,
		Generator: gen,
		EntryTier: strings.TrimSpace(cfg.Loyalty.EntryTierName),
		Clock:     p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("customer service: %w", err)
	}

	usage, err := benefits.NewUsageReader(redemptionRepo, visitRepo, loc)
	if err != nil {
		return nil, fmt.Errorf("usage reader: %w", err)
	}
	if l.Eligibility, err = benefits.NewService(benefits.ServiceParams{
		Customers: custRepo,
		Tiers:     tierRepo,
		Grants:    benefitRepo,
		Usage:     usage,
		Logger:    logg,
		Clock:     p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("eligibility service: %w", err)
	}

	if l.Visits, err = visits.NewService(visits.ServiceParams{
		DB:        p.DB,
		Ledger:    visitRepo,
		Customers: custRepo,
		Venues:    venueRepo,
		Tiers:     l.Evaluator,
		Outbox:    emitter,
		Logger:    logg,
		Clock:     p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("visit service: %w", err)
	}

	if l.Redemptions, err = redemptions.NewCoordinator(redemptions.CoordinatorParams{
		DB:          p.DB,
		Customers:   custRepo,
		Benefits:    benefitRepo,
		Usage:       usage,
		Ledger:      visitRepo,
		Redemptions: redemptionRepo,
		Venues:      venueRepo,
		Tiers:       l.Evaluator,
		Outbox:      emitter,
		Metrics:     l.Metrics,
		Logger:      logg,
		Retries:     redemptionRetries,
		Clock:       p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("redemption coordinator: %w", err)
	}

	if l.Reconcile, err = tiers.NewReconcileJob(tiers.ReconcileJobParams{
		Evaluator: l.Evaluator,
		Ledger:    visitRepo,
		Tiers:     tierRepo,
		Logger:    logg,
		Clock:     p.Clock,
	}); err != nil {
		return nil, fmt.Errorf("tier reconcile job: %w", err)
	}

	if l.IndexBuild, err = codeindex.NewBuilder(codeindex.BuilderParams{
		Generator: gen,
		Source:    codeindex.NewRepository(conn),
		Logger:    logg,
		BatchSize: cfg.Codes.IndexBatchSize,
		Workers:   cfg.Codes.IndexWorkers,
	}); err != nil {
		return nil, fmt.Errorf("code index builder: %w", err)
	}
	return l, nil
}

// NewGenerator builds the shared code generator from configuration.
func NewGenerator(cfg config.CodesConfig) (*rotatingcode.Generator, error) {
	gen, err := rotatingcode.New(rotatingcode.Options{
		Digits:     cfg.Digits,
		Step:       cfg.Step(),
		DriftSteps: cfg.DriftSteps,
		Pepper:     cfg.Pepper,
	})
	if err != nil {
		return nil, fmt.Errorf("code generator: %w", err)
	}
	return gen, nil
}

// Resolver wires the identity resolver to whichever index the caller reads.
func (l *Loyalty) Resolver(index codeindex.Reader, logg *logger.Logger, clock func() time.Time) (*identity.Resolver, error) {
	return identity.NewResolver(identity.ResolverParams{
		Index:     index,
		Generator: l.Generator,
		Customers: l.custRepo,
		Metrics:   l.Metrics,
		Logger:    logg,
		Clock:     clock,
	})
}

// IndexJob rebuilds the index into publisher once per run.
func (l *Loyalty) IndexJob(publisher codeindex.Publisher, logg *logger.Logger, warnRate float64) (*codeindex.Job, error) {
	return codeindex.NewJob(codeindex.JobParams{
		Builder:           l.IndexBuild,
		Publisher:         publisher,
		Metrics:           l.IndexMetrics,
		Logger:            logg,
		CollisionWarnRate: warnRate,
	})
}
