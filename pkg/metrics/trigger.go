package metrics

import "github.com/prometheus/client_golang/prometheus"

// Delivery results for trigger events.
const (
	DeliveryAcked     = "acked"
	DeliveryRetried   = "retried"
	DeliveryDropped   = "dropped"
	DeliveryDuplicate = "duplicate"
	DeliveryExhausted = "exhausted"
)

// TriggerMetrics counts trigger deliveries per source and result.
type TriggerMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewTriggerMetrics(reg prometheus.Registerer) *TriggerMetrics {
	if reg == nil {
		return &TriggerMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_deliveries_total",
		Help: "Document change deliveries by source and result.",
	}, []string{"source", "result"})
	reg.MustRegister(deliveries)
	return &TriggerMetrics{deliveries: deliveries}
}

func (m *TriggerMetrics) Inc(source, result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(source), normalizeLabel(result)).Inc()
}
