// Package metrics holds the connector's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "isoconn"

// Metrics groups the collectors recorded by the orchestrator and the
// transport.
type Metrics struct {
	transactions   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	reversals      *prometheus.CounterVec
	lateResponses  prometheus.Counter
	dispatchTime   *prometheus.HistogramVec
	inflight       prometheus.Gauge
	transportFrame *prometheus.CounterVec
	breakerState   prometheus.Gauge
	stanResets     prometheus.Counter
	undispatched   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "total",
			Help:      "Financial transactions processed segmented by type and final state.",
		}, []string{"type", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "transitions_total",
			Help:      "State transitions applied to transactions.",
		}, []string{"from", "to"}),
		reversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reversals",
			Name:      "total",
			Help:      "Reversal attempts segmented by reason and outcome.",
		}, []string{"reason", "outcome"}),
		lateResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "late_responses_total",
			Help:      "Responses discarded because they arrived after the wait expired.",
		}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from dispatch to response or timeout.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mti", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "inflight",
			Help:      "Requests waiting for a response.",
		}),
		transportFrame: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames read from or written to the network.",
		}, []string{"direction", "outcome"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		stanResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stan",
			Name:      "resets_total",
			Help:      "Daily STAN counter resets.",
		}),
		undispatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "undispatched",
			Help:      "Transactions stuck in CREATED found by the last sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.transactions,
			m.transitions,
			m.reversals,
			m.lateResponses,
			m.dispatchTime,
			m.inflight,
			m.transportFrame,
			m.breakerState,
			m.stanResets,
			m.undispatched,
		)
	}
	return m
}

// ObserveTransaction records a finished transaction.
func (m *Metrics) ObserveTransaction(txType, state string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(txType, state).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveReversal(reason, outcome string) {
	if m == nil {
		return
	}
	m.reversals.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) ObserveLateResponse() {
	if m == nil {
		return
	}
	m.lateResponses.Inc()
}

// ObserveDispatch records how long a dispatch took and how it ended.
func (m *Metrics) ObserveDispatch(mti, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTime.WithLabelValues(mti, outcome).Observe(elapsed.Seconds())
}

// TrackInflight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

func (m *Metrics) ObserveFrame(direction, outcome string) {
	if m == nil {
		return
	}
	m.transportFrame.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

func (m *Metrics) ObserveStanReset() {
	if m == nil {
		return
	}
	m.stanResets.Inc()
}

// SetUndispatched records how many CREATED transactions the last sweep found.
func (m *Metrics) SetUndispatched(n int) {
	if m == nil {
		return
	}
	m.undispatched.Set(float64(n))
}
