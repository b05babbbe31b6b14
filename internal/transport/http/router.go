// Package httptransport assembles the public HTTP surface: middleware chain,
// governed usage routes, the operator group, probes and the metrics endpoint.
package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callgate/internal/platform/health"
	"callgate/internal/usage/fingerprint"
	"callgate/internal/usage/handler"
	"callgate/pkg/platform/middleware/admin"
	"callgate/pkg/platform/middleware/metadata"
	"callgate/pkg/platform/middleware/request"
	"callgate/pkg/platform/middleware/requesttime"
)

// DefaultMaxBodyBytes caps request bodies when RouterConfig leaves it unset.
const DefaultMaxBodyBytes = 1 << 20

type RouterConfig struct {
	Logger         *slog.Logger
	Clock          clockwork.Clock
	TrustedProxies []netip.Prefix
	AdminToken     string
	// RequestTimeout must exceed the remote timeout times the retry budget,
	// otherwise governed operations are cut short.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Metrics        *request.Metrics
	// Gatherer backs /metrics; nil leaves the endpoint unmounted.
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig, usage *handler.Handler, probes *health.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(metadata.New(cfg.TrustedProxies).Handler)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(cfg.Metrics))
	r.Use(requesttime.Middleware(cfg.Clock))

	if probes != nil {
		probes.Register(r)
	}
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(cfg.RequestTimeout))
		r.Use(request.BodyLimit(maxBody))
		r.Use(request.ContentTypeJSON)
		r.Use(fingerprint.Middleware)
		usage.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(cfg.AdminToken, logger))
		r.Use(request.Timeout(cfg.RequestTimeout))
		usage.RegisterAdmin(r)
	})

	return r
}
