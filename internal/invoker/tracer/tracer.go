// Package tracer is the span abstraction used by the invoker, so call sites do
// not depend on OpenTelemetry APIs directly.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span; the returned context carries it to child operations.
	//
	// Example:
	//   ctx, span := tracer.Start(ctx, tracer.SpanInvoke,
	//       tracer.String(tracer.AttrOperation, "generate"),
	//   )
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names used by the invoker.
const (
	SpanInvoke     = "invoker.invoke"
	SpanRemoteCall = "invoker.remote_call"
)

// Attribute keys used by the invoker.
const (
	AttrOperation = "operation"
	AttrCacheHit  = "cache.hit"
	AttrAttempt   = "attempt"
	AttrAttempts  = "attempts"
	AttrShared    = "coalesced"
	AttrBackoffMs = "backoff_ms"
)

// Event names used by the invoker.
const (
	EventRetryScheduled = "retry.scheduled"
)
