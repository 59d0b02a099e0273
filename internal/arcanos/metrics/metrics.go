// Package metrics registers the daemon's Prometheus instruments. They are
// exposed on the debug transport at GET /debug/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsTotal counts heartbeat attempts by outcome
	// (ok, rate_limited, http_error, network_error).
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_heartbeats_total",
			Help: "Total heartbeat attempts sent to the backend, by outcome",
		},
		[]string{"outcome"},
	)

	// CommandsDispatched counts backend commands by name and outcome.
	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_commands_dispatched_total",
			Help: "Backend commands dispatched by the poll loop, by name and outcome",
		},
		[]string{"name", "outcome"},
	)

	// TurnsTotal counts conversation turns by route (local, backend) and outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_turns_total",
			Help: "Operator conversation turns, by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	// TurnDuration observes end-to-end conversation turn latency.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arcanos_turn_duration_seconds",
			Help:    "End-to-end duration of a conversation turn",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RateLimitRejections counts requests refused by a local rate limiter.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_rate_limit_rejections_total",
			Help: "Requests rejected by a local rate limiter, by surface (ask, debug)",
		},
		[]string{"surface"},
	)

	// GovernanceDenials counts actions refused by the governance gate.
	GovernanceDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_governance_denials_total",
			Help: "Privileged actions refused by the governance gate, by action",
		},
		[]string{"action"},
	)

	// DuplicateRejections counts commands suppressed by the idempotency guard.
	DuplicateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_duplicate_rejections_total",
			Help: "Commands rejected as duplicates within the dedup window, by action",
		},
		[]string{"action"},
	)

	// TrustState reports the current trust state as a one-hot gauge
	// (full, degraded, unsafe).
	TrustState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arcanos_trust_state",
			Help: "Current trust state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	// PlanActionsTotal counts ActionPlan actions executed by status.
	PlanActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arcanos_plan_actions_total",
			Help: "ActionPlan actions executed, by status (success, failure, rejected)",
		},
		[]string{"status"},
	)
)

// SetTrustState updates the one-hot trust gauge.
func SetTrustState(state string) {
	for _, s := range []string{"full", "degraded", "unsafe"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		TrustState.WithLabelValues(s).Set(v)
	}
}
