package invoker

import (
	"errors"
	"fmt"
	"math"
	"time"

	dErrors "callgate/pkg/domain-errors"
)

// RetryPolicy bounds how often and how patiently a failed call is retried.
// The wait before attempt n+1 is BaseDelay×Multiplier^(n-1), capped at
// MaxDelay when MaxDelay is positive.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy makes three attempts, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

func (p RetryPolicy) IsZero() bool {
	return p == RetryPolicy{}
}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return dErrors.New(dErrors.CodeValidation, "retry policy: max attempts must be at least 1")
	}
	if p.Multiplier < 1 {
		return dErrors.New(dErrors.CodeValidation, "retry policy: multiplier must be at least 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return dErrors.New(dErrors.CodeValidation, "retry policy: delays cannot be negative")
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// RemoteError reports a remote call that did not succeed within its retry
// budget. It unwraps to both the last underlying failure and a domain error
// with CodeRemoteFailure.
type RemoteError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{
		e.Err,
		&dErrors.Error{Code: dErrors.CodeRemoteFailure, Message: "remote call failed"},
	}
}

// Permanent marks err as not worth retrying, e.g. a rejected request.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// unwrapPermanent strips the marker so RemoteError carries the original failure.
func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
