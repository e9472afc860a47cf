package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels shared by the loyalty counters.
const (
	OutcomeResolved  = "resolved"
	OutcomeNotFound  = "not_found"
	OutcomeAmbiguous = "ambiguous"
	OutcomeStale     = "stale"
	OutcomeError     = "error"

	OutcomeRedeemed        = "redeemed"
	OutcomeAlreadyRedeemed = "already_redeemed"
	OutcomeQuotaExceeded   = "quota_exceeded"
	OutcomeTriggerInactive = "trigger_inactive"
)

// LoyaltyMetrics counts identity resolutions, redemptions and promotions.
type LoyaltyMetrics struct {
	resolutions *prometheus.CounterVec
	redemptions *prometheus.CounterVec
	promotions  *prometheus.CounterVec
	retries     prometheus.Counter
}

func NewLoyaltyMetrics(reg prometheus.Registerer) *LoyaltyMetrics {
	if reg == nil {
		return &LoyaltyMetrics{}
	}
	m := &LoyaltyMetrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_resolutions_total",
			Help:      "Scanned code resolutions by outcome.",
		}, []string{"outcome"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome.",
		}, []string{"outcome"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_promotions_total",
			Help:      "Tier promotions by destination tier.",
		}, []string{"tier"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemption_serialization_retries_total",
			Help:      "Redemption transactions re-run after a serialization failure.",
		}),
	}
	reg.MustRegister(m.resolutions, m.redemptions, m.promotions, m.retries)
	return m
}

func (m *LoyaltyMetrics) IncResolution(outcome string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LoyaltyMetrics) IncRedemption(outcome string) {
	if m == nil || m.redemptions == nil {
		return
	}
	m.redemptions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *LoyaltyMetrics) IncPromotion(tier string) {
	if m == nil || m.promotions == nil {
		return
	}
	m.promotions.WithLabelValues(normalizeLabel(tier)).Inc()
}

func (m *LoyaltyMetrics) IncSerializationRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}
