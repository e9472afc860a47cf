package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CodeIndexMetrics tracks rebuilds of the rotating code index.
type CodeIndexMetrics struct {
	rebuild       prometheus.Histogram
	entries       prometheus.Gauge
	collisions    prometheus.Gauge
	collisionRate prometheus.Gauge
	builtStep     prometheus.Gauge
}

func NewCodeIndexMetrics(reg prometheus.Registerer) *CodeIndexMetrics {
	if reg == nil {
		return &CodeIndexMetrics{}
	}
	m := &CodeIndexMetrics{
		rebuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "code_index_rebuild_seconds",
			Help:      "Time spent building and publishing one code index snapshot.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "code_index_entries",
			Help:      "Customer codes indexed in the current snapshot across all steps.",
		}),
		collisions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "code_index_collisions",
			Help:      "(step, code) slots mapped to more than one customer.",
		}),
		collisionRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "code_index_collision_rate",
			Help:      "Share of indexed codes that land in a colliding slot.",
		}),
		builtStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "code_index_built_step",
			Help:      "Time step of the last published snapshot.",
		}),
	}
	reg.MustRegister(m.rebuild, m.entries, m.collisions, m.collisionRate, m.builtStep)
	return m
}

// ObserveBuild records one published snapshot.
func (m *CodeIndexMetrics) ObserveBuild(step int64, entries, collisions int, rate float64, took time.Duration) {
	if m == nil || m.rebuild == nil {
		return
	}
	m.rebuild.Observe(took.Seconds())
	m.entries.Set(float64(entries))
	m.collisions.Set(float64(collisions))
	m.collisionRate.Set(rate)
	m.builtStep.Set(float64(step))
}
