package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	metrics *Metrics
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.metrics = New(prometheus.NewRegistry())
}

func (s *MetricsSuite) TestDecisionsByOutcome() {
	s.metrics.IncrementDecision(true)
	s.metrics.IncrementDecision(true)
	s.metrics.IncrementDecision(false)

	s.InDelta(2, testutil.ToFloat64(s.metrics.UsageDecisionsTotal.WithLabelValues("allowed")), 0)
	s.InDelta(1, testutil.ToFloat64(s.metrics.UsageDecisionsTotal.WithLabelValues("blocked")), 0)
}

func (s *MetricsSuite) TestStoreCircuitGauge() {
	s.metrics.SetStoreCircuitOpen(true)
	s.InDelta(1, testutil.ToFloat64(s.metrics.StoreCircuitOpen), 0)
	s.metrics.SetStoreCircuitOpen(false)
	s.InDelta(0, testutil.ToFloat64(s.metrics.StoreCircuitOpen), 0)
}

func (s *MetricsSuite) TestSeparateRegistriesDoNotCollide() {
	s.NotPanics(func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
