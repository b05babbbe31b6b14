package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "callgate/pkg/domain-errors"
	"callgate/pkg/requestcontext"
)

// Validatable is implemented by request types that check their own fields.
type Validatable interface {
	Validate() error
}

// DecodeJSON decodes the request body into T, then runs Validate when T
// implements Validatable. An empty body decodes to the zero T when allowEmpty
// is set. On failure it writes the error response and returns false.
//
// Usage:
//
//	req, ok := httputil.DecodeJSON[checkRequest](w, r, h.logger, false)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, allowEmpty bool) (*T, bool) {
	ctx := r.Context()
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}

	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.WarnContext(ctx, "invalid request",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			var domainErr *dErrors.Error
			if !errors.As(err, &domainErr) {
				err = dErrors.New(dErrors.CodeValidation, err.Error())
			}
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}
