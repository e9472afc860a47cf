package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts publisher outcomes per event type and tracks the
// dead-letter backlog the retention job last observed.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	dlq    *prometheus.GaugeVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	dlq := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_dlq_rows",
		Help:      "Rows currently parked in outbox_dlq, by error reason.",
	}, []string{"reason"})
	reg.MustRegister(events, dlq)
	return &OutboxMetrics{events: events, dlq: dlq}
}

func (m *OutboxMetrics) Inc(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) SetDLQBacklog(reason string, rows int64) {
	if m == nil || m.dlq == nil {
		return
	}
	m.dlq.WithLabelValues(reason).Set(float64(rows))
}
