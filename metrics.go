package tftp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every session spawned
// from a single dispatcher (SPEC_FULL §2, item 9). A nil *Metrics is valid
// and turns every method into a no-op, so sessions do not need to guard
// every call site against a caller that did not wire up metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	bytesTotal       *prometheus.CounterVec
	retransmitsTotal *prometheus.CounterVec
	sessionOutcomes  *prometheus.CounterVec
}

// NewMetrics constructs a Metrics and registers its collectors with reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "requests_total",
			Help:      "Number of RRQ/WRQ requests received, by opcode.",
		}, []string{"opcode"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tftpd",
			Name:      "sessions_active",
			Help:      "Number of sessions currently in flight.",
		}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "bytes_total",
			Help:      "Bytes transferred, by direction.",
		}, []string{"direction"}),
		retransmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "retransmits_total",
			Help:      "Number of packet retransmissions, by session kind.",
		}, []string{"kind"}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tftpd",
			Name:      "session_outcomes_total",
			Help:      "Terminal session outcomes, by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.sessionsActive,
		m.bytesTotal,
		m.retransmitsTotal,
		m.sessionOutcomes,
	)

	return m
}

func (m *Metrics) requestReceived(op Opcode) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(opcodeLabel(op)).Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) sessionEnded(kind, outcome string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) bytesTransferred(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) retransmit(kind string) {
	if m == nil {
		return
	}
	m.retransmitsTotal.WithLabelValues(kind).Inc()
}

func opcodeLabel(op Opcode) string {
	switch op {
	case OpcodeRead:
		return "rrq"
	case OpcodeWrite:
		return "wrq"
	default:
		return "unknown"
	}
}
