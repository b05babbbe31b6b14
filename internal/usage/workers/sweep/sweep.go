package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Result summarizes one sweep run.
type Result struct {
	Removed  int
	Expired  int
	Duration time.Duration
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (removed int, err error)
}

// ExpiryPurger drops store entries whose TTL has elapsed, such as cached
// results nobody asks for again.
type ExpiryPurger interface {
	PurgeExpired(ctx context.Context) (removed int, err error)
}

type Metrics interface {
	IncrementSweepRuns(status string)
	IncrementSweepRemoved(count int)
	ObserveSweepDuration(durationSeconds float64)
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(w *Worker) {
		if maxAge > 0 {
			w.maxAge = maxAge
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithExpiryPurge also purges expired store entries on every run.
func WithExpiryPurge(p ExpiryPurger) Option {
	return func(w *Worker) {
		w.purger = p
	}
}

func WithMetrics(m Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Worker periodically removes usage records idle for longer than maxAge
// and, when configured, expired store entries.
type Worker struct {
	sweeper  Sweeper
	purger   ExpiryPurger
	logger   *slog.Logger
	clock    clockwork.Clock
	interval time.Duration
	maxAge   time.Duration
	metrics  Metrics
}

func New(sweeper Sweeper, opts ...Option) *Worker {
	w := &Worker{
		sweeper:  sweeper,
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		interval: 5 * time.Minute,
		maxAge:   24 * time.Hour,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start sweeps every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			_, _ = w.RunOnce(ctx)
		case <-ctx.Done():
			w.logger.Info("usage sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep and reports it through logs and metrics.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	start := w.clock.Now()
	removed, err := w.sweeper.Sweep(ctx, start, w.maxAge)
	expired := 0
	if w.purger != nil {
		var purgeErr error
		expired, purgeErr = w.purger.PurgeExpired(ctx)
		err = errors.Join(err, purgeErr)
	}
	duration := w.clock.Since(start)
	result := &Result{Removed: removed, Expired: expired, Duration: duration}

	if w.metrics != nil {
		w.metrics.ObserveSweepDuration(duration.Seconds())
		w.metrics.IncrementSweepRemoved(removed)
	}

	if err != nil {
		w.logger.ErrorContext(ctx, "usage_sweep_failed",
			"error", err,
			"removed", removed,
			"expired", expired,
			"duration_ms", duration.Milliseconds(),
		)
		if w.metrics != nil {
			w.metrics.IncrementSweepRuns("error")
		}
		return result, err
	}

	w.logger.InfoContext(ctx, "usage_sweep_completed",
		"removed", removed,
		"expired", expired,
		"duration_ms", duration.Milliseconds(),
	)
	if w.metrics != nil {
		w.metrics.IncrementSweepRuns("success")
	}
	return result, nil
}
