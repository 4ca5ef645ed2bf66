// Package metrics provides Prometheus metrics for the trade copier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollCycles counts completed reconciliation cycles.
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "copier",
		Name:      "poll_cycles_total",
		Help:      "Completed reconciliation cycles against the master account.",
	})

	// ChangeEvents counts diff events by type (opened/closed/modified).
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copier",
		Name:      "change_events_total",
		Help:      "Master position changes detected per poll cycle.",
	}, []string{"type"})

	// ReplayActions counts replay attempts by action and result.
	ReplayActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copier",
		Name:      "replay_actions_total",
		Help:      "Replay actions dispatched to the slave account.",
	}, []string{"action", "result"})

	// SizingSkips counts positions left unmirrored by the sizing policy.
	SizingSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copier",
		Name:      "sizing_skips_total",
		Help:      "Replay opens skipped by the sizing policy, by reason.",
	}, []string{"reason"})

	// MirroredPositions gauges the number of master->slave mappings.
	MirroredPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "copier",
		Name:      "mirrored_positions",
		Help:      "Live master positions currently mirrored on the slave.",
	})

	// LoopState gauges the reconciliation loop state
	// (0 idle, 1 master active, 2 polling, 3 replaying, 4 stopped, 5 fatal).
	LoopState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "copier",
		Name:      "loop_state",
		Help:      "Reconciliation loop state machine position.",
	})

	// ReplayLatency observes wall time per replay action, including the
	// two session switches around it.
	ReplayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "copier",
		Name:      "replay_latency_seconds",
		Help:      "Latency of one replay action including session switches.",
		Buckets:   prometheus.DefBuckets,
	})
)

// IncReplay records one replay attempt outcome.
func IncReplay(action, result string) {
	ReplayActions.WithLabelValues(action, result).Inc()
}

// StartMetricsServer serves /metrics on addr in the background.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
