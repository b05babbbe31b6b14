package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the invoker and the result cache it consults.
type Metrics struct {
	InvocationsTotal      *prometheus.CounterVec
	AttemptsTotal         *prometheus.CounterVec
	RetriesTotal          *prometheus.CounterVec
	ExhaustedTotal        *prometheus.CounterVec
	CoalescedTotal        *prometheus.CounterVec
	InvocationDuration    *prometheus.HistogramVec
	CacheHitsTotal        *prometheus.CounterVec
	CacheMissesTotal      *prometheus.CounterVec
	CacheStoreErrorsTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_invoker_invocations_total",
			Help: "Total number of invocations by operation and outcome",
		}, []string{"operation", "outcome"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_invoker_attempts_total",
			Help: "Total number of remote call attempts",
		}, []string{"operation"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_invoker_retries_total",
			Help: "Total number of retries scheduled after a failed attempt",
		}, []string{"operation"}),
		ExhaustedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_invoker_exhausted_total",
			Help: "Total number of invocations that failed after their final attempt",
		}, []string{"operation"}),
		CoalescedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_invoker_coalesced_total",
			Help: "Total number of invocations served by an identical in-flight request",
		}, []string{"operation"}),
		InvocationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callgate_invoker_invocation_duration_seconds",
			Help:    "Duration of invocations including cache lookup and backoff",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"operation"}),
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_cache_hits_total",
			Help: "Total number of result cache hits",
		}, []string{"operation"}),
		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_cache_misses_total",
			Help: "Total number of result cache misses",
		}, []string{"operation"}),
		CacheStoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "callgate_cache_store_errors_total",
			Help: "Total number of result cache store failures",
		}, []string{"operation", "action"}),
	}
}

func (m *Metrics) IncrementInvocations(operation, outcome string) {
	m.InvocationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) IncrementAttempts(operation string) {
	m.AttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementRetries(operation string) {
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementExhausted(operation string) {
	m.ExhaustedTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementCoalesced(operation string) {
	m.CoalescedTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveInvocationDuration(operation string, durationSeconds float64) {
	m.InvocationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) IncrementCacheHits(operation string) {
	m.CacheHitsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementCacheMisses(operation string) {
	m.CacheMissesTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncrementCacheErrors(operation, action string) {
	m.CacheStoreErrorsTotal.WithLabelValues(operation, action).Inc()
}
