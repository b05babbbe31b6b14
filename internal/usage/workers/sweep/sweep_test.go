package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
)

type stubSweeper struct {
	mu       sync.Mutex
	calls    []time.Time
	maxAges  []time.Duration
	removed  int
	err      error
	signaled chan struct{}
}

func (s *stubSweeper) Sweep(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, now)
	s.maxAges = append(s.maxAges, maxAge)
	s.mu.Unlock()
	if s.signaled != nil {
		s.signaled <- struct{}{}
	}
	return s.removed, s.err
}

type stubPurger struct {
	expired int
	err     error
}

func (p *stubPurger) PurgeExpired(context.Context) (int, error) { return p.expired, p.err }

type recordingMetrics struct {
	runs    map[string]int
	removed int
}

func (m *recordingMetrics) IncrementSweepRuns(status string) { m.runs[status]++ }
func (m *recordingMetrics) IncrementSweepRemoved(count int)  { m.removed += count }
func (m *recordingMetrics) ObserveSweepDuration(float64)     {}

type SweepWorkerSuite struct {
	suite.Suite
	clock   clockwork.FakeClock
	sweeper *stubSweeper
	metrics *recordingMetrics
	logs    *bytes.Buffer
	worker  *Worker
}

func TestSweepWorkerSuite(t *testing.T) {
	suite.Run(t, new(SweepWorkerSuite))
}

func (s *SweepWorkerSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	s.sweeper = &stubSweeper{}
	s.metrics = &recordingMetrics{runs: map[string]int{}}
	s.logs = &bytes.Buffer{}
	s.worker = New(s.sweeper,
		WithClock(s.clock),
		WithInterval(time.Minute),
		WithMaxAge(2*time.Hour),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
	)
}

func (s *SweepWorkerSuite) TestRunOnce() {
	s.sweeper.removed = 4

	res, err := s.worker.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(4, res.Removed)
	s.Equal([]time.Time{s.clock.Now()}, s.sweeper.calls)
	s.Equal([]time.Duration{2 * time.Hour}, s.sweeper.maxAges)
	s.Equal(1, s.metrics.runs["success"])
	s.Equal(4, s.metrics.removed)
	s.Contains(s.logs.String(), "usage_sweep_completed")
}

func (s *SweepWorkerSuite) TestRunOncePropagatesErrors() {
	s.sweeper.removed = 1
	s.sweeper.err = errors.New("store unavailable")

	res, err := s.worker.RunOnce(context.Background())
	s.Error(err)
	s.Equal(1, res.Removed, "partial progress is still reported")
	s.Equal(1, s.metrics.runs["error"])
	s.Contains(s.logs.String(), "usage_sweep_failed")
}

func (s *SweepWorkerSuite) TestRunOncePurgesExpiredEntries() {
	s.sweeper.removed = 2
	purger := &stubPurger{expired: 9}
	worker := New(s.sweeper, WithClock(s.clock), WithExpiryPurge(purger), WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))))

	res, err := worker.RunOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(2, res.Removed)
	s.Equal(9, res.Expired)
	s.Contains(s.logs.String(), `"expired":9`)

	purger.err = errors.New("postgres purge failed")
	res, err = worker.RunOnce(context.Background())
	s.ErrorIs(err, purger.err)
	s.Equal(2, res.Removed)
	s.Equal(1, s.metrics.runs["error"])
}

func (s *SweepWorkerSuite) TestStartSweepsOnEveryTick() {
	s.sweeper.signaled = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.worker.Start(ctx) }()

	for range 2 {
		s.clock.BlockUntil(1)
		s.clock.Advance(time.Minute)
		select {
		case <-s.sweeper.signaled:
		case <-time.After(time.Second):
			s.FailNow("sweep did not run on tick")
		}
	}

	cancel()
	s.ErrorIs(<-done, context.Canceled)
	s.Len(s.sweeper.calls, 2)
}

func (s *SweepWorkerSuite) TestDefaults() {
	w := New(s.sweeper, WithInterval(0), WithMaxAge(-time.Second))
	s.Equal(5*time.Minute, w.interval)
	s.Equal(24*time.Hour, w.maxAge)
}
