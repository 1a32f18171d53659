package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ingestion counters.
type Metrics struct {
	lines    *prometheus.CounterVec
	uploads  *prometheus.CounterVec
	persists prometheus.Histogram
}

// NewMetrics registers the ingestion collectors on reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdr",
			Subsystem: "ingest",
			Name:      "lines_total",
			Help:      "Input lines processed, by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdr",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Ingestion calls by final status.",
		}, []string{"status"}),
		persists: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdr",
			Subsystem: "ingest",
			Name:      "persist_duration_seconds",
			Help:      "Time spent in bulk inserts.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.lines, m.uploads, m.persists)
	}
	return m
}

func (m *Metrics) accepted() {
	m.lines.WithLabelValues("accepted", "").Inc()
}

func (m *Metrics) rejected(reason RejectionReason) {
	m.lines.WithLabelValues("rejected", string(reason)).Inc()
}

func (m *Metrics) upload(status string) {
	m.uploads.WithLabelValues(status).Inc()
}

func (m *Metrics) observePersist(seconds float64) {
	m.persists.Observe(seconds)
}
