// Package metrics collects Prometheus metrics for Helmsman's control
// plane, grounded on r3e-network-service_layer's infrastructure/metrics
// (a struct of collectors built once and registered against a
// Registerer, rather than bare package-level globals).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the control plane updates.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CommandsInFlight prometheus.Gauge

	ViewsByState   *prometheus.GaugeVec
	SessionsActive prometheus.Gauge

	NavigationsTotal *prometheus.CounterVec
	NavigationWait   *prometheus.HistogramVec

	ResourceRSSBytes   prometheus.Gauge
	ResourceCPUPercent prometheus.Gauge
	ResourceHealth     *prometheus.GaugeVec

	LedgerRecordsTotal *prometheus.CounterVec
	LedgerVerifyFailed prometheus.Counter

	EventsDroppedTotal prometheus.Counter
}

// New builds a Metrics instance and registers every collector against
// the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry builds a Metrics instance registered against a
// caller-supplied Registerer (tests use prometheus.NewRegistry() to
// avoid colliding with other packages' default-registry collectors).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_commands_total",
			Help: "Total dispatched commands by name and outcome.",
		}, []string{"command", "outcome"}),

		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmsman_command_duration_seconds",
			Help:    "Command handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),

		CommandsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmsman_commands_in_flight",
			Help: "Commands currently awaiting completion.",
		}),

		ViewsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helmsman_views_by_state",
			Help: "Live view count by state machine state.",
		}, []string{"state"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmsman_sessions_active",
			Help: "Sessions currently loaded in the session store.",
		}),

		NavigationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_navigations_total",
			Help: "Total navigation attempts by outcome.",
		}, []string{"outcome"}),

		NavigationWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helmsman_navigation_admission_wait_seconds",
			Help:    "Time a navigation intent spent queued before admission.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"host"}),

		ResourceRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmsman_resource_rss_bytes",
			Help: "Most recent resident set size sample.",
		}),
		ResourceCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmsman_resource_cpu_percent",
			Help: "Most recent CPU utilization sample.",
		}),
		ResourceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helmsman_resource_health",
			Help: "1 if the resource monitor currently reports this health level, else 0.",
		}, []string{"level"}),

		LedgerRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmsman_ledger_records_total",
			Help: "Total ledger records appended by kind.",
		}, []string{"kind"}),
		LedgerVerifyFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helmsman_ledger_verify_failed_total",
			Help: "Total verify_evidence calls that found a chain discrepancy.",
		}),

		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helmsman_events_dropped_total",
			Help: "Total progress events dropped under subscriber backpressure.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.CommandsTotal, m.CommandDuration, m.CommandsInFlight,
			m.ViewsByState, m.SessionsActive,
			m.NavigationsTotal, m.NavigationWait,
			m.ResourceRSSBytes, m.ResourceCPUPercent, m.ResourceHealth,
			m.LedgerRecordsTotal, m.LedgerVerifyFailed,
			m.EventsDroppedTotal,
		)
	}
	return m
}

// RecordCommand updates command-level metrics after a dispatch
// completes.
func (m *Metrics) RecordCommand(command, outcome string, d time.Duration) {
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// SetViewCounts replaces the per-state view gauge values wholesale
// (called after each resource sample tick from a view registry
// snapshot, so stale states are zeroed rather than left stale).
func (m *Metrics) SetViewCounts(counts map[string]int) {
	for state, n := range counts {
		m.ViewsByState.WithLabelValues(state).Set(float64(n))
	}
}

// SetResourceHealth zeroes every level except the current one.
func (m *Metrics) SetResourceHealth(current string, levels []string) {
	for _, lvl := range levels {
		v := 0.0
		if lvl == current {
			v = 1
		}
		m.ResourceHealth.WithLabelValues(lvl).Set(v)
	}
}
