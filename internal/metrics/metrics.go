// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateDecisions counts gate decisions by kind and whether a store was degraded.
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_gate_decisions_total",
			Help: "Total gate decisions by kind",
		},
		[]string{"kind", "degraded"},
	)

	// GateEvaluationDuration tracks how long a full gate evaluation takes.
	GateEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustgate_gate_evaluation_duration_seconds",
			Help:    "Gate evaluation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// GateEvaluationTimeouts counts evaluations abandoned for exceeding the timeout.
	GateEvaluationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustgate_gate_evaluation_timeouts_total",
			Help: "Gate evaluations that exceeded the evaluation timeout",
		},
	)

	// StoreErrors counts trust store read failures by store.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_store_errors_total",
			Help: "Trust store read failures",
		},
		[]string{"store", "served_from_cache"},
	)

	// MFAChallenges counts challenge outcomes by method.
	MFAChallenges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_mfa_challenges_total",
			Help: "MFA challenge outcomes",
		},
		[]string{"method", "outcome"},
	)

	// MFALockouts counts failures that started a lockout.
	MFALockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustgate_mfa_lockouts_total",
			Help: "MFA lockouts started",
		},
	)

	// TrustEvents counts change notifications received from the database.
	TrustEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustgate_trust_events_total",
			Help: "Trust state change notifications received",
		},
		[]string{"table"},
	)

	// ActiveWatchers is the number of running session watchers.
	ActiveWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustgate_active_watchers",
			Help: "Running session gate watchers",
		},
	)
)

// BoolLabel renders a bool as a label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
