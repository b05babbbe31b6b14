// Package invoker performs remote calls with result caching, bounded
// exponential-backoff retry and coalescing of identical in-flight requests.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"callgate/internal/invoker/tracer"
	dErrors "callgate/pkg/domain-errors"
)

// RemoteCall performs one attempt against the remote service.
type RemoteCall func(ctx context.Context) (json.RawMessage, error)

// Request describes one logical invocation.
type Request struct {
	Operation string
	Params    any
	// CacheTTL of zero disables caching for this request.
	CacheTTL time.Duration
	// Retry of zero value uses the invoker default.
	Retry RetryPolicy
}

// Cache is the result cache consulted before and filled after a call.
type Cache interface {
	Key(operation string, params any) (string, error)
	Get(ctx context.Context, operation string, params any) (json.RawMessage, bool)
	Put(ctx context.Context, operation string, params any, payload json.RawMessage, ttl time.Duration)
}

type Metrics interface {
	IncrementInvocations(operation, outcome string)
	IncrementAttempts(operation string)
	IncrementRetries(operation string)
	IncrementExhausted(operation string)
	IncrementCoalesced(operation string)
	ObserveInvocationDuration(operation string, durationSeconds float64)
}

// Invocation outcomes reported to metrics.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "remote_error"
	OutcomeCancelled = "cancelled"
)

type Invoker struct {
	cache   Cache
	clock   clockwork.Clock
	tracer  tracer.Tracer
	logger  *slog.Logger
	metrics Metrics
	retry   RetryPolicy
	flights singleflight.Group
}

type Option func(*Invoker)

func WithClock(c clockwork.Clock) Option {
	return func(i *Invoker) {
		if c != nil {
			i.clock = c
		}
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(i *Invoker) {
		if t != nil {
			i.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// WithDefaultRetry sets the policy used by requests that carry none.
func WithDefaultRetry(p RetryPolicy) Option {
	return func(i *Invoker) {
		i.retry = p
	}
}

func New(cache Cache, opts ...Option) (*Invoker, error) {
	if cache == nil {
		return nil, errors.New("result cache is required")
	}
	i := &Invoker{
		cache:  cache,
		clock:  clockwork.NewRealClock(),
		tracer: tracer.NewNoop(),
		logger: slog.Default(),
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if err := i.retry.Validate(); err != nil {
		return nil, err
	}
	return i, nil
}

// Invoke returns a cached result for req when one is valid; otherwise it runs
// call under req's retry policy, caches a success for req.CacheTTL and returns
// it. Failures surface as *RemoteError. Cancelling ctx abandons the attempt
// loop, including any pending backoff, and returns the context error.
func (i *Invoker) Invoke(ctx context.Context, req Request, call RemoteCall) (payload json.RawMessage, err error) {
	if req.Operation == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "operation is required")
	}
	if call == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "remote call is required")
	}
	if req.Retry.IsZero() {
		req.Retry = i.retry
	}
	if err := req.Retry.Validate(); err != nil {
		return nil, err
	}

	start := i.clock.Now()
	ctx, span := i.tracer.Start(ctx, tracer.SpanInvoke, tracer.String(tracer.AttrOperation, req.Operation))
	outcome := OutcomeSuccess
	defer func() {
		span.End(err)
		if i.metrics != nil {
			i.metrics.IncrementInvocations(req.Operation, outcome)
			i.metrics.ObserveInvocationDuration(req.Operation, i.clock.Since(start).Seconds())
		}
	}()

	if cached, ok := i.cache.Get(ctx, req.Operation, req.Params); ok {
		span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
		outcome = OutcomeCacheHit
		return cached, nil
	}
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, false))

	payload, err = i.coalesce(ctx, req, call)
	switch {
	case err == nil:
	case isCancellation(err):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeFailure
	}
	return payload, err
}

// coalesce shares one attempt loop among identical concurrent requests. A
// follower whose leader was cancelled runs its own loop instead of inheriting
// a cancellation it did not ask for.
func (i *Invoker) coalesce(ctx context.Context, req Request, call RemoteCall) (json.RawMessage, error) {
	key, err := i.cache.Key(req.Operation, req.Params)
	if err != nil {
		return i.run(ctx, req, call)
	}

	led := false
	ch := i.flights.DoChan(key, func() (any, error) {
		led = true
		return i.run(ctx, req, call)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil && !led && isCancellation(res.Err) && ctx.Err() == nil {
			return i.run(ctx, req, call)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		payload, _ := res.Val.(json.RawMessage)
		if res.Shared && !led {
			if i.metrics != nil {
				i.metrics.IncrementCoalesced(req.Operation)
			}
			payload = append(json.RawMessage(nil), payload...)
		}
		return payload, nil
	}
}

func (i *Invoker) run(ctx context.Context, req Request, call RemoteCall) (json.RawMessage, error) {
	policy := req.Retry
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.Delay(attempt - 1)
			if i.metrics != nil {
				i.metrics.IncrementRetries(req.Operation)
			}
			if err := i.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		payload, err := i.attempt(ctx, req.Operation, attempt, call)
		if err == nil {
			i.cache.Put(ctx, req.Operation, req.Params, payload, req.CacheTTL)
			return payload, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if IsPermanent(err) {
			i.logger.WarnContext(ctx, "remote call rejected",
				"operation", req.Operation,
				"attempt", attempt,
				"error", err,
			)
			return nil, &RemoteError{Operation: req.Operation, Attempts: attempt, Err: unwrapPermanent(err)}
		}

		attrs := []any{
			"operation", req.Operation,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"error", err,
		}
		if attempt < policy.MaxAttempts {
			attrs = append(attrs, "next_delay_ms", policy.Delay(attempt).Milliseconds())
		}
		i.logger.WarnContext(ctx, "remote call attempt failed", attrs...)
	}

	if i.metrics != nil {
		i.metrics.IncrementExhausted(req.Operation)
	}
	i.logger.ErrorContext(ctx, "remote call retries exhausted",
		"operation", req.Operation,
		"attempts", policy.MaxAttempts,
		"error", lastErr,
	)
	return nil, &RemoteError{Operation: req.Operation, Attempts: policy.MaxAttempts, Err: lastErr}
}

func (i *Invoker) attempt(ctx context.Context, operation string, n int, call RemoteCall) (payload json.RawMessage, err error) {
	ctx, span := i.tracer.Start(ctx, tracer.SpanRemoteCall,
		tracer.String(tracer.AttrOperation, operation),
		tracer.Int(tracer.AttrAttempt, n),
	)
	defer func() { span.End(err) }()

	if i.metrics != nil {
		i.metrics.IncrementAttempts(operation)
	}
	return call(ctx)
}

// sleep waits d on the invoker clock, returning early with ctx's error.
func (i *Invoker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := i.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// isCancellation reports whether err is the invoking context giving up. A
// RemoteError is a finished retry loop even when its last attempt timed out.
func isCancellation(err error) bool {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
