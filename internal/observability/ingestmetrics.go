package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var knownEvents = map[string]struct{}{
	"push":         {},
	"pull_request": {},
	"ping":         {},
}

// IngestMetrics counts webhook deliveries by event type and terminal outcome.
type IngestMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	return &IngestMetrics{
		deliveries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
	}
}

// ObserveDelivery records one delivery. The event header is client supplied,
// so unknown values collapse into "other".
func (m *IngestMetrics) ObserveDelivery(eventType, outcome string) {
	if _, ok := knownEvents[eventType]; !ok {
		eventType = "other"
	}
	m.deliveries.WithLabelValues(eventType, outcome).Inc()
}
