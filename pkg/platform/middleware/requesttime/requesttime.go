// Package requesttime pins a single "now" per request so the governor, the
// ledger and the audit log all agree on when a call happened.
package requesttime

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type contextKey struct{}

// Middleware reads clock once per request and stores the instant on the
// context. A nil clock uses the wall clock.
func Middleware(clock clockwork.Clock) func(http.Handler) http.Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithTime(r.Context(), clock.Now())))
		})
	}
}

// Now returns the pinned request time, or time.Now outside an HTTP request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}
