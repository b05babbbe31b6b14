// Package admin guards the operator endpoints with a shared token.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"callgate/pkg/platform/httputil"
	"callgate/pkg/requestcontext"
)

const (
	HeaderAdminToken   = "X-Admin-Token"
	HeaderAdminActorID = "X-Admin-Actor-ID"
)

type contextKeyActorID struct{}

// ActorID returns the operator identifier supplied on an admin request, or ""
// outside the admin group.
func ActorID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyActorID{}).(string); ok {
		return id
	}
	return ""
}

// WithActorID is exposed for handler tests that bypass the middleware.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyActorID{}, id)
}

// RequireAdminToken rejects requests whose X-Admin-Token does not match
// expected. An empty expected token disables the admin surface entirely.
func RequireAdminToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderAdminToken)
			if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{
					"error":             "unauthorized",
					"error_description": "admin token required",
				})
				return
			}

			if actor := r.Header.Get(HeaderAdminActorID); actor != "" {
				ctx = WithActorID(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
