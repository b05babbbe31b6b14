// Package kvstore provides the durable string-keyed store shared by the usage
// ledger and the result cache. Each backend is pure I/O; callers own encoding
// and key namespacing.
package kvstore

import (
	"context"
	"errors"
	"time"

	dErrors "callgate/pkg/domain-errors"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrUnavailable marks a store that cannot currently serve requests.
// Backends wrap transport failures with it so callers can degrade gracefully.
var ErrUnavailable = &dErrors.Error{Code: dErrors.CodeStoreUnavailable, Message: "kvstore: store unavailable"}

// Store is a synchronous string-keyed byte store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key. A positive ttl lets the backend expire the key;
	// zero keeps it until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns a snapshot of all keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Purger is implemented by backends that keep expired entries until told to
// drop them. Redis expires keys itself and does not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (removed int, err error)
}

// unavailable wraps a backend failure so errors.Is(err, ErrUnavailable) holds.
func unavailable(op string, err error) error {
	return &dErrors.Error{Code: dErrors.CodeStoreUnavailable, Message: "kvstore: " + op + " failed", Err: err}
}

// IsUnavailable reports whether err signals an unreachable store.
func IsUnavailable(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeStoreUnavailable)
}
