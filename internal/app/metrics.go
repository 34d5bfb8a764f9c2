package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "proximity"

// Metrics is nil-safe: a Registry without metrics simply skips them.
type Metrics struct {
	participants   prometheus.Gauge
	joins          prometheus.Counter
	leaves         prometheus.Counter
	sent           prometheus.Counter
	dropped        *prometheus.CounterVec
	signalsRelayed prometheus.Counter
	signalsDropped prometheus.Counter
	malformed      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		participants: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "participants",
			Help:      "Participants currently registered",
		}),
		joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "joins_total",
			Help:      "Total number of successful joins",
		}),
		leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "leaves_total",
			Help:      "Total number of participants removed by leave or disconnect",
		}),
		sent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Messages handed to participant transports",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Messages lost because the recipient transport was not writable",
		}, []string{"reason"}),
		signalsRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signals_relayed_total",
			Help:      "Signaling payloads delivered to their target",
		}),
		signalsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "signals_dropped_total",
			Help:      "Signaling payloads dropped because the target was gone or not writable",
		}),
		malformed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound messages rejected at the boundary",
		}, []string{"reason"}),
	}
}

func (m *Metrics) setParticipants(n int) {
	if m != nil {
		m.participants.Set(float64(n))
	}
}

func (m *Metrics) joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) left() {
	if m != nil {
		m.leaves.Inc()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.sent.Add(float64(n))
	}
}

func (m *Metrics) droppedSend(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) relayed(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.signalsRelayed.Inc()
		return
	}
	m.signalsDropped.Inc()
}

// Malformed counts an inbound message rejected by the transport adapter.
func (m *Metrics) Malformed(reason string) {
	if m != nil {
		m.malformed.WithLabelValues(reason).Inc()
	}
}
