package governor

import (
	"time"

	dErrors "callgate/pkg/domain-errors"
)

// Decision is the governor's answer to "may this call happen now?".
type Decision struct {
	Allowed     bool   `json:"allowed"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
	Message     string `json:"message,omitempty"`
	Count       int    `json:"count"`
	TierCeiling int    `json:"tier_ceiling,omitempty"` // 0 when the tier is unbounded
}

// Err returns nil for an allowed decision and a *RateLimitedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitedError{
		Wait:    time.Duration(d.WaitSeconds) * time.Second,
		Message: d.Message,
	}
}

// RateLimitedError reports a call refused because the caller is cooling down.
// It unwraps to a domain error with CodeRateLimited.
type RateLimitedError struct {
	Wait    time.Duration
	Message string
}

func (e *RateLimitedError) Error() string {
	return e.Message
}

func (e *RateLimitedError) Unwrap() error {
	return &dErrors.Error{Code: dErrors.CodeRateLimited, Message: e.Message}
}

// Status is a read-only view of a caller's standing.
type Status struct {
	Identity      string     `json:"identity"`
	Count         int        `json:"count"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	WaitSeconds   int        `json:"wait_seconds,omitempty"`
	TierCeiling   int        `json:"tier_ceiling,omitempty"`
	TierWindow    string     `json:"tier_window"`
}
