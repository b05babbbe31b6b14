package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"callgate/internal/invoker/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanInvoke, tracer.String(tracer.AttrOperation, "generate"))

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
	span.AddEvent(tracer.EventRetryScheduled, tracer.Int(tracer.AttrAttempt, 2))
	span.End(errors.New("boom"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanRemoteCall,
		tracer.String(tracer.AttrOperation, "analyze"),
		tracer.Int(tracer.AttrAttempt, 1),
		tracer.Duration(tracer.AttrBackoffMs, time.Second),
	)
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		span.AddEvent(tracer.EventRetryScheduled)
		span.End(errors.New("upstream 503"))
	})
}

func TestAttributeConstructors(t *testing.T) {
	assert.Equal(t, tracer.Attribute{Key: "k", Value: "v"}, tracer.String("k", "v"))
	assert.Equal(t, tracer.Attribute{Key: "n", Value: 3}, tracer.Int("n", 3))
	assert.Equal(t, int64(150), tracer.Duration("d", 150*time.Millisecond).Value)
}
