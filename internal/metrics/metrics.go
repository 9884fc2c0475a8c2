package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Assignments        *prometheus.CounterVec
	Claims             prometheus.Counter
	ClaimConflicts     prometheus.Counter
	Transitions        *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "annoline_assignments_total",
			Help: "Work item assignment attempts by outcome (resumed, claimed, exhausted).",
		}, []string{"outcome"}),
		Claims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annoline_claims_total",
			Help: "Fresh work items claimed by an annotator.",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annoline_claim_conflicts_total",
			Help: "Claims lost to a concurrent session and retried.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "annoline_transitions_total",
			Help: "Completed workflow transitions by action.",
		}, []string{"action"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "annoline_validation_failures_total",
			Help: "Blocked process transitions by reason.",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "annoline_active_sessions",
			Help: "Annotation sessions currently held by the server.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Assignments, m.Claims, m.ClaimConflicts, m.Transitions, m.ValidationFailures, m.ActiveSessions)
	}
	return m
}

func (m *Metrics) Assigned(outcome string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Claimed() {
	if m == nil {
		return
	}
	m.Claims.Inc()
}

func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflicts.Inc()
}

func (m *Metrics) Transition(action string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(action).Inc()
}

func (m *Metrics) ValidationFailed(reason string) {
	if m == nil {
		return
	}
	m.ValidationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
