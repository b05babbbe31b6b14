package requesttime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewarePinsClockTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(at)

	var first, second time.Time
	h := Middleware(clock)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		first = Now(r.Context())
		clock.Advance(time.Minute)
		second = Now(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.False(t, first.IsZero())
	assert.Equal(t, at, first)
	assert.Equal(t, first, second, "time is fixed for the whole request")
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}

func TestWithTime(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	assert.Equal(t, at, Now(WithTime(context.Background(), at)))
}
