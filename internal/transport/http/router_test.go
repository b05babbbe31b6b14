package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"callgate/internal/callcache"
	"callgate/internal/invoker"
	invokermetrics "callgate/internal/invoker/metrics"
	"callgate/internal/platform/health"
	"callgate/internal/platform/kvstore"
	"callgate/internal/remote"
	usageconfig "callgate/internal/usage/config"
	"callgate/internal/usage/fingerprint"
	"callgate/internal/usage/governor"
	"callgate/internal/usage/handler"
	"callgate/internal/usage/ledger"
	usagemetrics "callgate/internal/usage/metrics"
	"callgate/internal/usage/policy"
	"callgate/internal/usage/workers/sweep"
	"callgate/pkg/platform/middleware/admin"
	"callgate/pkg/platform/middleware/request"
)

const (
	adminToken = "test-admin-token"
	browserUA  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36"
)

// RouterSuite drives the assembled HTTP surface against real components and a
// stub upstream.
type RouterSuite struct {
	suite.Suite
	clock         clockwork.FakeClock
	store         *kvstore.MemoryStore
	registry      *prometheus.Registry
	usageMetrics  *usagemetrics.Metrics
	upstream      *httptest.Server
	upstreamCalls atomic.Int32
	router        http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	s.store = kvstore.NewMemory(kvstore.WithMemoryClock(s.clock))
	s.registry = prometheus.NewRegistry()
	s.usageMetrics = usagemetrics.New(s.registry)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.upstreamCalls.Store(0)
	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.upstreamCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","echo":` + string(body) + `}`))
	}))
	s.T().Cleanup(s.upstream.Close)

	cfg := usageconfig.DefaultConfig()
	pol, err := policy.New(cfg.Tiers)
	s.Require().NoError(err)
	led, err := ledger.New(s.store, pol, ledger.WithLogger(logger), ledger.WithMetrics(s.usageMetrics))
	s.Require().NoError(err)
	gov, err := governor.New(fingerprint.New(fingerprint.ContextEnvironment{}), led, pol,
		governor.WithLogger(logger),
		governor.WithMetrics(s.usageMetrics),
		governor.WithBlockMessage(cfg.BlockMessage),
	)
	s.Require().NoError(err)

	invMetrics := invokermetrics.New(s.registry)
	cache, err := callcache.New(s.store, callcache.WithClock(s.clock), callcache.WithMetrics(invMetrics))
	s.Require().NoError(err)
	inv, err := invoker.New(cache, invoker.WithClock(s.clock), invoker.WithMetrics(invMetrics))
	s.Require().NoError(err)
	client, err := remote.New(remote.Config{BaseURL: s.upstream.URL, Timeout: 5 * time.Second})
	s.Require().NoError(err)

	h := handler.New(gov, inv, client, cfg,
		handler.WithLogger(logger),
		handler.WithMetrics(s.usageMetrics),
		handler.WithOperations(usageconfig.OperationGenerate, usageconfig.OperationAnalyze),
		handler.WithAdmin(led, sweep.New(led, sweep.WithClock(s.clock), sweep.WithLogger(logger))),
	)

	s.router = NewRouter(RouterConfig{
		Logger:         logger,
		Clock:          s.clock,
		AdminToken:     adminToken,
		RequestTimeout: 10 * time.Second,
		Metrics:        request.NewMetrics(s.registry),
		Gatherer:       s.registry,
	}, h, health.New("test", health.WithClock(s.clock)))
}

func (s *RouterSuite) call(method, path, body, ua string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.8")
	req.Header.Set(fingerprint.HeaderScreenResolution, "1920x1080")
	req.Header.Set(fingerprint.HeaderTimezoneOffset, "0")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestEscalationOverHTTP() {
	for i := 1; i <= 8; i++ {
		rec := s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
		s.Require().Equal(http.StatusOK, rec.Code, "call %d", i)
	}

	rec := s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("30", rec.Header().Get("Retry-After"))
	s.Contains(rec.Body.String(), "Please wait 30 seconds")

	other := s.call(http.MethodPost, "/v1/usage/check", "", "curl/8.4.0")
	s.Equal(http.StatusOK, other.Code, "a different caller has its own budget")

	s.clock.Advance(31 * time.Second)
	rec = s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
	s.Equal(http.StatusOK, rec.Code)

	s.Equal(float64(1), testutil.ToFloat64(s.usageMetrics.UsageCooldownsTriggeredTotal))
}

func (s *RouterSuite) TestStatusPeekDoesNotConsume() {
	s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
	for range 3 {
		rec := s.call(http.MethodGet, "/v1/usage", "", browserUA)
		s.Require().Equal(http.StatusOK, rec.Code)
		var st governor.Status
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &st))
		s.Equal(1, st.Count)
	}
}

func (s *RouterSuite) TestOperationIsCachedPerParams() {
	body := `{"params":{"prompt":"write a haiku","n":1}}`
	first := s.call(http.MethodPost, "/v1/operations/generate", body, browserUA)
	s.Require().Equal(http.StatusOK, first.Code, first.Body.String())
	s.Contains(first.Body.String(), `"path":"/generate"`)

	reordered := `{"params":{"n":1,"prompt":"write a haiku"}}`
	second := s.call(http.MethodPost, "/v1/operations/generate", reordered, browserUA)
	s.Require().Equal(http.StatusOK, second.Code)
	s.Equal(int32(1), s.upstreamCalls.Load(), "equal params hit the cache")

	s.clock.Advance(6 * time.Minute)
	third := s.call(http.MethodPost, "/v1/operations/generate", body, browserUA)
	s.Require().Equal(http.StatusOK, third.Code)
	s.Equal(int32(2), s.upstreamCalls.Load(), "expired entry is refetched")
}

func (s *RouterSuite) TestAdminRequiresToken() {
	rec := s.call(http.MethodPost, "/admin/usage/sweep", "", browserUA)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestAdminResetClearsCooldown() {
	var identity string
	for range 9 {
		s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
	}
	rec := s.call(http.MethodGet, "/v1/usage", "", browserUA)
	var st governor.Status
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &st))
	identity = st.Identity
	s.Require().Positive(st.WaitSeconds)

	req := httptest.NewRequest(http.MethodDelete, "/admin/usage/"+identity, nil)
	req.Header.Set(admin.HeaderAdminToken, adminToken)
	req.Header.Set(admin.HeaderAdminActorID, "ops-1")
	reset := httptest.NewRecorder()
	s.router.ServeHTTP(reset, req)
	s.Require().Equal(http.StatusNoContent, reset.Code)

	s.Equal(http.StatusOK, s.call(http.MethodPost, "/v1/usage/check", "", browserUA).Code)
	s.Equal(float64(1), testutil.ToFloat64(s.usageMetrics.UsageAdminResetsTotal))
}

func (s *RouterSuite) TestProbesAndMetrics() {
	s.Equal(http.StatusOK, s.call(http.MethodGet, "/health/live", "", browserUA).Code)
	s.Equal(http.StatusOK, s.call(http.MethodGet, "/health/ready", "", browserUA).Code)

	s.call(http.MethodPost, "/v1/usage/check", "", browserUA)
	rec := s.call(http.MethodGet, "/metrics", "", browserUA)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "callgate_usage_decisions_total")
	s.Contains(rec.Body.String(), "callgate_http_request_duration_seconds")
}
