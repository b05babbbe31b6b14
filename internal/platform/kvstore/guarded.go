package kvstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callgate/pkg/platform/circuit"
)

// StoreMetrics receives store health signals. *metrics.Metrics satisfies it.
type StoreMetrics interface {
	IncrementStoreErrors(op string)
	SetStoreCircuitOpen(open bool)
}

// Guarded wraps a Store with a circuit breaker. Once the backend fails
// repeatedly, calls short-circuit with ErrUnavailable until a probe succeeds.
type Guarded struct {
	next    Store
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics StoreMetrics
}

type GuardedOption func(*Guarded)

func WithGuardLogger(logger *slog.Logger) GuardedOption {
	return func(g *Guarded) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithGuardMetrics(m StoreMetrics) GuardedOption {
	return func(g *Guarded) {
		g.metrics = m
	}
}

// NewGuarded wraps next with the given breaker.
func NewGuarded(next Store, breaker *circuit.Breaker, opts ...GuardedOption) *Guarded {
	g := &Guarded{
		next:    next,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, error) {
	if !g.breaker.Allow() {
		return nil, ErrUnavailable
	}
	value, err := g.next.Get(ctx, key)
	g.observe(ctx, "get", err)
	return value, err
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !g.breaker.Allow() {
		return ErrUnavailable
	}
	err := g.next.Set(ctx, key, value, ttl)
	g.observe(ctx, "set", err)
	return err
}

func (g *Guarded) Delete(ctx context.Context, key string) error {
	if !g.breaker.Allow() {
		return ErrUnavailable
	}
	err := g.next.Delete(ctx, key)
	g.observe(ctx, "delete", err)
	return err
}

func (g *Guarded) Keys(ctx context.Context, prefix string) ([]string, error) {
	if !g.breaker.Allow() {
		return nil, ErrUnavailable
	}
	keys, err := g.next.Keys(ctx, prefix)
	g.observe(ctx, "keys", err)
	return keys, err
}

// PurgeExpired delegates to the wrapped store when it needs explicit purging.
func (g *Guarded) PurgeExpired(ctx context.Context) (int, error) {
	purger, ok := g.next.(Purger)
	if !ok {
		return 0, nil
	}
	if !g.breaker.Allow() {
		return 0, ErrUnavailable
	}
	removed, err := purger.PurgeExpired(ctx)
	g.observe(ctx, "purge", err)
	return removed, err
}

// observe feeds the breaker. A miss is a healthy answer, not a failure. A call
// abandoned by its own caller says nothing about the backend and is ignored.
func (g *Guarded) observe(ctx context.Context, op string, err error) {
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
	if err == nil || errors.Is(err, ErrNotFound) {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "store circuit closed", "circuit", g.breaker.Name())
			g.setCircuitMetric(false)
		}
		return
	}

	if g.metrics != nil {
		g.metrics.IncrementStoreErrors(op)
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.logger.ErrorContext(ctx, "store circuit opened",
			"circuit", g.breaker.Name(),
			"op", op,
			"error", err,
		)
		g.setCircuitMetric(true)
	}
}

func (g *Guarded) setCircuitMetric(open bool) {
	if g.metrics != nil {
		g.metrics.SetStoreCircuitOpen(open)
	}
}

// Health reports whether the wrapped store is currently reachable.
func (g *Guarded) Health() error {
	if g.breaker.IsOpen() {
		return ErrUnavailable
	}
	return nil
}
