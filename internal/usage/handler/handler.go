// Package handler exposes usage governance and governed remote operations over
// HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"callgate/internal/invoker"
	"callgate/internal/usage/governor"
	"callgate/internal/usage/workers/sweep"
	dErrors "callgate/pkg/domain-errors"
	"callgate/pkg/platform/httputil"
	"callgate/pkg/platform/middleware/admin"
	"callgate/pkg/platform/middleware/requesttime"
	"callgate/pkg/requestcontext"
)

var (
	validOperation = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	validIdentity  = regexp.MustCompile(`^[0-9a-z]{1,32}$`)
)

type Governor interface {
	CheckAndConsume(ctx context.Context, now time.Time) governor.Decision
	Status(ctx context.Context, now time.Time) governor.Status
}

type Invoker interface {
	Invoke(ctx context.Context, req invoker.Request, call invoker.RemoteCall) (json.RawMessage, error)
}

// Remote builds the single-attempt call the invoker retries.
type Remote interface {
	Caller(operation string, params any) invoker.RemoteCall
}

type CacheTTLs interface {
	CacheTTL(operation string) time.Duration
}

type Resetter interface {
	Reset(ctx context.Context, identity string) error
}

type Sweeper interface {
	RunOnce(ctx context.Context) (*sweep.Result, error)
}

type Metrics interface {
	IncrementAdminResets()
}

type Handler struct {
	governor   Governor
	invoker    Invoker
	remote     Remote
	ttls       CacheTTLs
	resetter   Resetter
	sweeper    Sweeper
	operations []string
	logger     *slog.Logger
	metrics    Metrics
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithOperations restricts POST /v1/operations/{operation} to the given names.
func WithOperations(ops ...string) Option {
	return func(h *Handler) {
		if len(ops) > 0 {
			h.operations = ops
		}
	}
}

// WithAdmin enables the reset and sweep endpoints.
func WithAdmin(resetter Resetter, sweeper Sweeper) Option {
	return func(h *Handler) {
		h.resetter = resetter
		h.sweeper = sweeper
	}
}

func New(gov Governor, inv Invoker, remote Remote, ttls CacheTTLs, opts ...Option) *Handler {
	h := &Handler{
		governor: gov,
		invoker:  inv,
		remote:   remote,
		ttls:     ttls,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/usage/check", h.HandleCheck)
	r.Get("/v1/usage", h.HandleStatus)
	r.Post("/v1/operations/{operation}", h.HandleOperation)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Delete("/admin/usage/{identity}", h.HandleReset)
	r.Post("/admin/usage/sweep", h.HandleSweep)
}

// HandleCheck implements POST /v1/usage/check.
// Output: 200 with the decision, or 429 with Retry-After when cooling down.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decision := h.governor.CheckAndConsume(ctx, requesttime.Now(ctx))
	if !decision.Allowed {
		h.writeBlocked(w, decision)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleStatus implements GET /v1/usage. Nothing is consumed.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	httputil.WriteJSON(w, http.StatusOK, h.governor.Status(ctx, requesttime.Now(ctx)))
}

type operationRequest struct {
	Params json.RawMessage `json:"params"`
}

func (req *operationRequest) Validate() error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return dErrors.New(dErrors.CodeValidation, "params is required")
	}
	return nil
}

type operationResponse struct {
	Operation string            `json:"operation"`
	Result    json.RawMessage   `json:"result"`
	Usage     governor.Decision `json:"usage"`
}

// HandleOperation implements POST /v1/operations/{operation}.
//
// Input: { "params": { ... } }
// Output: { "operation": "...", "result": { ... }, "usage": { ... } }
//
// The caller's usage is consumed before the remote call and is not refunded
// when the call fails.
func (h *Handler) HandleOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operation := chi.URLParam(r, "operation")
	if !h.knownOperation(operation) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown operation"))
		return
	}

	req, ok := httputil.DecodeJSON[operationRequest](w, r, h.logger, false)
	if !ok {
		return
	}

	decision := h.governor.CheckAndConsume(ctx, requesttime.Now(ctx))
	if !decision.Allowed {
		h.writeBlocked(w, decision)
		return
	}

	result, err := h.invoker.Invoke(ctx, invoker.Request{
		Operation: operation,
		Params:    req.Params,
		CacheTTL:  h.ttls.CacheTTL(operation),
	}, h.remote.Caller(operation, req.Params))
	if err != nil {
		h.writeInvokeError(ctx, w, operation, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, operationResponse{
		Operation: operation,
		Result:    result,
		Usage:     decision,
	})
}

// HandleReset implements DELETE /admin/usage/{identity}.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resetter == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "admin endpoints disabled"))
		return
	}
	identity := chi.URLParam(r, "identity")
	if !validIdentity.MatchString(identity) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid identity"))
		return
	}

	if err := h.resetter.Reset(ctx, identity); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset usage",
			"error", err,
			"identity", identity,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncrementAdminResets()
	}
	h.logger.InfoContext(ctx, "usage_admin_reset",
		"event", "usage_admin_reset",
		"log_type", "audit",
		"identity", identity,
		"actor_id", admin.ActorID(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

type sweepResponse struct {
	Removed    int   `json:"removed"`
	Expired    int   `json:"expired"`
	DurationMS int64 `json:"duration_ms"`
}

// HandleSweep implements POST /admin/usage/sweep. A partial sweep still
// reports how many records were removed, alongside a 503.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "admin endpoints disabled"))
		return
	}

	result, err := h.sweeper.RunOnce(ctx)
	if err != nil {
		removed := 0
		if result != nil {
			removed = result.Removed
		}
		h.logger.WarnContext(ctx, "on-demand usage sweep incomplete",
			"error", err,
			"removed", removed,
			"actor_id", admin.ActorID(ctx),
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sweepResponse{
		Removed:    result.Removed,
		Expired:    result.Expired,
		DurationMS: result.Duration.Milliseconds(),
	})
}

func (h *Handler) knownOperation(operation string) bool {
	if !validOperation.MatchString(operation) {
		return false
	}
	return len(h.operations) == 0 || slices.Contains(h.operations, operation)
}

type blockedResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	WaitSeconds      int    `json:"wait_seconds"`
}

func (h *Handler) writeBlocked(w http.ResponseWriter, d governor.Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(d.WaitSeconds))
	httputil.WriteJSON(w, http.StatusTooManyRequests, blockedResponse{
		Error:            httputil.DomainCodeToHTTPCode(dErrors.CodeRateLimited),
		ErrorDescription: d.Message,
		WaitSeconds:      d.WaitSeconds,
	})
}

func (h *Handler) writeInvokeError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	requestID := requestcontext.RequestID(ctx)
	var remoteErr *invoker.RemoteError
	if errors.As(err, &remoteErr) {
		h.logger.WarnContext(ctx, "remote call failed",
			"operation", operation,
			"attempts", remoteErr.Attempts,
			"error", remoteErr.Err,
			"request_id", requestID,
		)
		httputil.WriteError(w, &dErrors.Error{Code: dErrors.CodeRemoteFailure, Message: "remote call failed", Err: err})
		return
	}

	switch {
	case errors.Is(err, context.Canceled):
		h.logger.InfoContext(ctx, "client went away during remote call",
			"operation", operation,
			"request_id", requestID,
		)
		return
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeTimeout, "remote call timed out"))
		return
	}

	h.logger.ErrorContext(ctx, "invocation failed",
		"operation", operation,
		"error", err,
		"request_id", requestID,
	)
	httputil.WriteError(w, err)
}
