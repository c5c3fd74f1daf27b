package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds session counters. A nil *Metrics records nothing.
type Metrics struct {
	issued      prometheus.Counter
	rotations   *prometheus.CounterVec
	revocations *prometheus.CounterVec
	rotateDur   prometheus.Histogram
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "session",
			Name:      "issued_total",
			Help:      "Sessions issued after a successful login.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Refresh rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "session",
			Name:      "revocations_total",
			Help:      "Session rows revoked by reason.",
		}, []string{"reason"}),
		rotateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: "session",
			Name:      "rotation_duration_seconds",
			Help:      "Latency of the rotation unit of work.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.issued, m.rotations, m.revocations, m.rotateDur)
	return m
}

func (m *Metrics) observeIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

func (m *Metrics) observeRotation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
	m.rotateDur.Observe(d.Seconds())
}

func (m *Metrics) observeRevoked(reason Reason, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(string(reason)).Add(float64(n))
}
