package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lealtad-backend/api/controllers"
	"github.com/angelmondragon/lealtad-backend/api/middleware"
	"github.com/angelmondragon/lealtad-backend/internal/benefits"
	"github.com/angelmondragon/lealtad-backend/internal/customers"
	"github.com/angelmondragon/lealtad-backend/internal/visits"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
	"github.com/angelmondragon/lealtad-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/lealtad-backend/pkg/redis"
)

// RateStore backs the shared per-staff resolve limit.
type RateStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger

	DB    controllers.Pinger
	Redis controllers.Pinger

	Idempotency pkgredis.IdempotencyStore
	RateStore   RateStore
	Metrics     *metrics.HTTPMetrics
	Gatherer    prometheus.Gatherer

	Resolver    controllers.CodeResolver
	Customers   customers.Service
	Eligibility benefits.Service
	Visits      visits.Service
	Redemptions controllers.Redeemer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.Metrics),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})
	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	idempotent := middleware.Idempotency(p.Idempotency, logg, cfg.HTTP.RequestTimeout)
	var resolveLimit func(http.Handler) http.Handler
	if p.RateStore != nil {
		resolveLimit = middleware.ResolveRateLimit(p.RateStore, cfg.HTTP.ResolvePerMinute, logg)
	} else {
		resolveLimit = func(next http.Handler) http.Handler { return next }
	}
	backOffice := middleware.RequireRole(logg, enums.StaffRoleManager, enums.StaffRoleSystem)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(middleware.NewClientLimiter(cfg.HTTP.ClientRPS, cfg.HTTP.ClientBurst), logg))

		r.With(resolveLimit).Post("/scan", controllers.Scan(p.Resolver, p.Eligibility, logg))
		r.With(resolveLimit).Post("/codes/resolve", controllers.ResolveCode(p.Resolver, logg))

		r.With(backOffice, idempotent).Post("/customers", controllers.CustomerRegister(p.Customers, logg))
		r.Route("/customers/{customerId}", func(r chi.Router) {
			r.Get("/", controllers.CustomerGet(p.Customers, logg))
			r.Get("/code", controllers.CustomerCode(p.Customers, logg))
			r.Get("/eligibility", controllers.CustomerEligibility(p.Eligibility, logg))
			r.Get("/visits", controllers.CustomerVisits(p.Visits, logg))
		})

		r.With(idempotent).Post("/visits", controllers.VisitRecord(p.Visits, logg))
		r.With(backOffice, idempotent).Post("/external-state", controllers.ExternalStateRecord(p.Visits, logg))
		r.With(idempotent).Post("/redemptions", controllers.RedemptionCreate(p.Redemptions, logg))
		r.With(backOffice).Get("/venues/{venueId}/visits", controllers.VenueVisits(p.Visits, logg))
	})

	return r
}
