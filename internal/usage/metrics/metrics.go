package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	UsageDecisionsTotal          *prometheus.CounterVec
	UsageCooldownsTriggeredTotal prometheus.Counter
	UsageWindowResetsTotal       prometheus.Counter
	UsageLedgerErrorsTotal       *prometheus.CounterVec
	UsageAdminResetsTotal        prometheus.Counter
	UsageSweepRunsTotal          *prometheus.CounterVec
	UsageSweepRemovedTotal       prometheus.Counter
	UsageSweepDurationSeconds    prometheus.Histogram
	StoreErrorsTotal             *prometheus.CounterVec
	StoreCircuitOpen             prometheus.Gauge
}

// New registers usage metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsageDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_usage_decisions_total",
			Help: "Total number of governor decisions by outcome",
		}, []string{"outcome"}),
		UsageCooldownsTriggeredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callgate_usage_cooldowns_triggered_total",
			Help: "Total number of cooldowns imposed on entering a higher tier",
		}),
		UsageWindowResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callgate_usage_window_resets_total",
			Help: "Total number of usage records restarted after their window elapsed",
		}),
		UsageLedgerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_usage_ledger_errors_total",
			Help: "Total number of ledger store failures absorbed by failing open",
		}, []string{"op"}),
		UsageAdminResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callgate_usage_admin_resets_total",
			Help: "Total number of usage records cleared administratively",
		}),
		UsageSweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_usage_sweep_runs_total",
			Help: "Total number of sweep runs",
		}, []string{"status"}),
		UsageSweepRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "callgate_usage_sweep_removed_total",
			Help: "Total number of stale usage records removed by the sweep worker",
		}),
		UsageSweepDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "callgate_usage_sweep_duration_seconds",
			Help: "Duration of sweep runs in seconds",
		}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_store_errors_total",
			Help: "Total number of key-value store failures by operation",
		}, []string{"op"}),
		StoreCircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "callgate_store_circuit_open",
			Help: "1 while the key-value store circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementDecision(allowed bool) {
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
	}
	m.UsageDecisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCooldownsTriggered() {
	m.UsageCooldownsTriggeredTotal.Inc()
}

func (m *Metrics) IncrementWindowResets() {
	m.UsageWindowResetsTotal.Inc()
}

func (m *Metrics) IncrementLedgerErrors(op string) {
	m.UsageLedgerErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) IncrementAdminResets() {
	m.UsageAdminResetsTotal.Inc()
}

func (m *Metrics) IncrementSweepRuns(status string) {
	m.UsageSweepRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementSweepRemoved(count int) {
	m.UsageSweepRemovedTotal.Add(float64(count))
}

func (m *Metrics) ObserveSweepDuration(durationSeconds float64) {
	m.UsageSweepDurationSeconds.Observe(durationSeconds)
}

func (m *Metrics) IncrementStoreErrors(op string) {
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) SetStoreCircuitOpen(open bool) {
	if open {
		m.StoreCircuitOpen.Set(1)
		return
	}
	m.StoreCircuitOpen.Set(0)
}
