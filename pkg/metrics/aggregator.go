package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for a cart recomputation.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeNoCart    = "no_cart"
)

// AggregatorMetrics records cart recomputations.
type AggregatorMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
}

// NewAggregatorMetrics registers the aggregator metrics on the provided registerer.
func NewAggregatorMetrics(reg prometheus.Registerer) *AggregatorMetrics {
	if reg == nil {
		return &AggregatorMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_recompute_duration_seconds",
		Help:    "Duration of cart total recomputations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_recompute_success_total",
		Help: "Successful cart recomputations by outcome.",
	}, []string{"outcome"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_recompute_failure_total",
		Help: "Failed cart recomputations by error code.",
	}, []string{"code"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_line_items_skipped_total",
		Help: "Line items left out of cart totals.",
	}, []string{"reason"})
	reg.MustRegister(duration, success, failure, skipped)
	return &AggregatorMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		skipped:  skipped,
	}
}

// ObserveDuration records how long a recomputation took for the change kind that triggered it.
func (m *AggregatorMetrics) ObserveDuration(trigger string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(trigger)).Observe(duration.Seconds())
}

func (m *AggregatorMetrics) IncSuccess(outcome string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *AggregatorMetrics) IncFailure(code string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *AggregatorMetrics) AddSkipped(reason string, n int) {
	if m == nil || m.skipped == nil || n <= 0 {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(reason)).Add(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
