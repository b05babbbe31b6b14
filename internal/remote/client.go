// Package remote is the HTTP adapter for the generation/analysis service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callgate/internal/invoker"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// ErrorCategory classifies remote failures.
type ErrorCategory string

const (
	ErrorTimeout     ErrorCategory = "timeout"
	ErrorOutage      ErrorCategory = "outage"
	ErrorRateLimited ErrorCategory = "rate_limited"
	ErrorRejected    ErrorCategory = "rejected"
	ErrorBadData     ErrorCategory = "bad_data"
	ErrorInternal    ErrorCategory = "internal"
)

// Error describes a failed call to the remote service.
type Error struct {
	Category   ErrorCategory
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Operation, e.Category, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// Client posts operation parameters as JSON to {BaseURL}/{operation} and
// returns the JSON response body.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(base.String(), "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}, nil
}

// Caller binds operation and params into a single invoker attempt.
func (c *Client) Caller(operation string, params any) invoker.RemoteCall {
	return func(ctx context.Context) (json.RawMessage, error) {
		return c.Call(ctx, operation, params)
	}
}

// Call performs one request. Client errors other than 408 and 429 are marked
// permanent so the invoker does not retry them.
func (c *Client) Call(ctx context.Context, operation string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, invoker.Permanent(&Error{Category: ErrorBadData, Operation: operation, Message: "failed to encode request", Err: err})
	}

	endpoint := c.baseURL + "/" + url.PathEscape(operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, invoker.Permanent(&Error{Category: ErrorInternal, Operation: operation, Message: "failed to create request", Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &Error{Category: ErrorTimeout, Operation: operation, Message: "request timeout", Err: err}
		}
		return nil, &Error{Category: ErrorOutage, Operation: operation, Message: "failed to execute request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Category: ErrorOutage, Operation: operation, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if err := classifyStatus(operation, resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	if !json.Valid(respBody) {
		return nil, invoker.Permanent(&Error{Category: ErrorBadData, Operation: operation, StatusCode: resp.StatusCode, Message: "response is not valid JSON"})
	}
	return json.RawMessage(respBody), nil
}

func classifyStatus(operation string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout:
		return &Error{Category: ErrorTimeout, Operation: operation, StatusCode: status, Message: "remote timed out"}
	case status == http.StatusTooManyRequests:
		return &Error{Category: ErrorRateLimited, Operation: operation, StatusCode: status, Message: "remote rate limit exceeded"}
	case status >= 400 && status < 500:
		return invoker.Permanent(&Error{Category: ErrorRejected, Operation: operation, StatusCode: status, Message: summarize(status, body)})
	default:
		return &Error{Category: ErrorOutage, Operation: operation, StatusCode: status, Message: summarize(status, body)}
	}
}

// summarize keeps error messages short enough for logs.
func summarize(status int, body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		text = text[:limit] + "..."
	}
	if text == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s", status, text)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
