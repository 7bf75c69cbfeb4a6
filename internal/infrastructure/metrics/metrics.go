package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	transitions       *prometheus.CounterVec
	retries           prometheus.Counter
	refundAttempts    *prometheus.CounterVec
	fanoutEvents      *prometheus.CounterVec
	fanoutDropped     prometheus.Counter
	fanoutSubscribers prometheus.Gauge
	outboxPublished   *prometheus.CounterVec
}

// New registers the collectors on reg. A nil registerer yields a recorder that
// drops everything.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order commands by transition and result.",
		}, []string{"transition", "result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_transition_retries_total",
			Help: "Read-modify-write attempts retried after a version conflict or deadlock.",
		}),
		refundAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refund_attempts_total",
			Help: "Refund gateway calls by result.",
		}, []string{"result"}),
		fanoutEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fanout_events_total",
			Help: "Order changes received by the fan-out hub, by source.",
		}, []string{"source"}),
		fanoutDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fanout_dropped_total",
			Help: "Events dropped because a subscriber was too slow.",
		}),
		fanoutSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fanout_subscribers",
			Help: "Currently connected subscribers.",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events handed to sinks, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.transitions, m.retries, m.refundAttempts, m.fanoutEvents, m.fanoutDropped, m.fanoutSubscribers, m.outboxPublished)
	return m
}

func (m *Metrics) ObserveTransition(transition, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(transition), normalizeLabel(result)).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveRefundAttempt(result string) {
	if m == nil || m.refundAttempts == nil {
		return
	}
	m.refundAttempts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveFanoutEvent(source string) {
	if m == nil || m.fanoutEvents == nil {
		return
	}
	m.fanoutEvents.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncFanoutDropped() {
	if m == nil || m.fanoutDropped == nil {
		return
	}
	m.fanoutDropped.Inc()
}

func (m *Metrics) SetFanoutSubscribers(n int) {
	if m == nil || m.fanoutSubscribers == nil {
		return
	}
	m.fanoutSubscribers.Set(float64(n))
}

func (m *Metrics) ObserveOutboxPublish(result string) {
	if m == nil || m.outboxPublished == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
