// Package health serves liveness, readiness and status probes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"callgate/pkg/platform/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultCheckTimeout bounds every readiness check.
const DefaultCheckTimeout = 2 * time.Second

// CheckFunc reports nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name  string
	check CheckFunc
}

type Handler struct {
	clock        clockwork.Clock
	startTime    time.Time
	environment  string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

type Option func(*Handler)

func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.checkTimeout = d
		}
	}
}

func New(environment string, opts ...Option) *Handler {
	h := &Handler{
		clock:        clockwork.NewRealClock(),
		environment:  environment,
		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.clock.Now()
	return h
}

// RegisterCheck adds a named readiness check. Registering a name twice
// replaces the earlier check.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i].check = check
			return
		}
	}
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs all checks concurrently and answers 503 if any fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	results := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = c.check(ctx)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines record into results

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for i, c := range checks {
		if err := results[i]; err != nil {
			resp.Checks[c.name] = "down: " + err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.name] = "up"
	}
	httputil.WriteJSON(w, status, resp)
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	now := h.clock.Now()
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
	})
}
