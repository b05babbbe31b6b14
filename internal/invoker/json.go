package invoker

import (
	"context"
	"encoding/json"
	"fmt"
)

// InvokeJSON runs Invoke for a call producing T, encoding the result for the
// cache and decoding cached or fresh payloads back into T.
func InvokeJSON[T any](ctx context.Context, inv *Invoker, req Request, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	payload, err := inv.Invoke(ctx, req, func(ctx context.Context) (json.RawMessage, error) {
		result, err := call(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, Permanent(fmt.Errorf("failed to encode %s result: %w", req.Operation, err))
		}
		return raw, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, fmt.Errorf("failed to decode %s result: %w", req.Operation, err)
	}
	return out, nil
}
