package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLoyaltyMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLoyaltyMetrics(reg)
	m.IncResolution(OutcomeAmbiguous)
	m.IncResolution(OutcomeAmbiguous)
	m.IncRedemption(OutcomeQuotaExceeded)
	m.IncPromotion("Plata")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "lealtad_code_resolutions_total", "outcome", OutcomeAmbiguous); err != nil || got != 2 {
		t.Fatalf("expected ambiguous=2, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "lealtad_redemptions_total", "outcome", OutcomeQuotaExceeded); err != nil || got != 1 {
		t.Fatalf("expected quota_exceeded=1, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "lealtad_tier_promotions_total", "tier", "Plata"); err != nil || got != 1 {
		t.Fatalf("expected promotion=1, got %f err=%v", got, err)
	}
}

func TestCodeIndexMetricsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCodeIndexMetrics(reg)
	m.ObserveBuild(1000, 300, 2, 0.02, 40*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := gaugeValue(t, mfs, "lealtad_code_index_collisions"); got != 2 {
		t.Fatalf("expected 2 collisions, got %f", got)
	}
	if got := gaugeValue(t, mfs, "lealtad_code_index_entries"); got != 300 {
		t.Fatalf("expected 300 entries, got %f", got)
	}
	if got := gaugeValue(t, mfs, "lealtad_code_index_built_step"); got != 1000 {
		t.Fatalf("expected step 1000, got %f", got)
	}
}

func gaugeValue(t *testing.T, mfs []*dto.MetricFamily, name string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		t.Fatalf("gauge %q not found", name)
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}
