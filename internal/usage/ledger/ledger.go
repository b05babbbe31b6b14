// Package ledger persists per-identity usage records in the shared key-value
// store under the "usage:" prefix.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callgate/internal/platform/kvstore"
	"callgate/internal/usage/models"
	"callgate/internal/usage/policy"
	dErrors "callgate/pkg/domain-errors"
	platformsync "callgate/pkg/platform/sync"
)

// KeyPrefix namespaces ledger keys in the shared store.
const KeyPrefix = "usage:"

// Metrics receives ledger signals. *metrics.Metrics satisfies it.
type Metrics interface {
	IncrementLedgerErrors(op string)
	IncrementWindowResets()
}

// Ledger reads and mutates usage records. Every read-modify-write for one
// identity runs under that identity's shard lock and is persisted before the
// lock is released.
//
// The ledger fails open: a store failure is logged and counted, then Get
// reports no record, Record returns a fresh single-call record and the
// remaining mutations do nothing.
type Ledger struct {
	store   kvstore.Store
	policy  *policy.Policy
	locks   *platformsync.ShardedMutex
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithShards sets the number of lock shards. Default 32.
func WithShards(n int) Option {
	return func(l *Ledger) {
		l.locks = platformsync.NewShardedMutex(n)
	}
}

func New(store kvstore.Store, pol *policy.Policy, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if pol == nil {
		return nil, errors.New("policy is required")
	}
	l := &Ledger{
		store:  store,
		policy: pol,
		locks:  platformsync.NewShardedMutex(0),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Key returns the store key for an identity.
func Key(identity string) string {
	return KeyPrefix + identity
}

// Get returns the identity's current record, or nil when none exists.
func (l *Ledger) Get(ctx context.Context, identity string) *models.UsageRecord {
	rec, err := l.load(ctx, identity)
	if err != nil {
		l.storeFailure(ctx, "get", identity, err)
		return nil
	}
	return rec
}

// Record counts one call at now. When more than the window of the tier that
// governed the previous count has passed since the last call, the record
// restarts at one and any cooldown is dropped.
func (l *Ledger) Record(ctx context.Context, identity string, now time.Time) *models.UsageRecord {
	l.locks.Lock(identity)
	defer l.locks.Unlock(identity)

	rec, err := l.load(ctx, identity)
	var corrupt *corruptRecordError
	if err != nil && !errors.As(err, &corrupt) {
		l.storeFailure(ctx, "record", identity, err)
		return models.NewUsageRecord(identity, now)
	}

	switch {
	case rec == nil:
		rec = models.NewUsageRecord(identity, now)
	case now.Sub(rec.LastUsedAt) > l.policy.TierFor(rec.Count).Window:
		rec.Restart(now)
		if l.metrics != nil {
			l.metrics.IncrementWindowResets()
		}
	default:
		rec.Touch(now)
	}

	if err := l.save(ctx, rec); err != nil {
		l.storeFailure(ctx, "record", identity, err)
	}
	return rec
}

// SetCooldown blocks the identity until the given instant. Missing records
// and deadlines before the last recorded call are ignored.
func (l *Ledger) SetCooldown(ctx context.Context, identity string, until time.Time) {
	l.locks.Lock(identity)
	defer l.locks.Unlock(identity)

	rec, err := l.load(ctx, identity)
	if err != nil {
		l.storeFailure(ctx, "set_cooldown", identity, err)
		return
	}
	if rec == nil || until.Before(rec.LastUsedAt) {
		return
	}

	rec.CooldownUntil = &until
	if err := l.save(ctx, rec); err != nil {
		l.storeFailure(ctx, "set_cooldown", identity, err)
	}
}

// Reset deletes the identity's record. The error is returned for
// administrative callers; the governor never resets.
func (l *Ledger) Reset(ctx context.Context, identity string) error {
	l.locks.Lock(identity)
	defer l.locks.Unlock(identity)

	if err := l.store.Delete(ctx, Key(identity)); err != nil {
		l.storeFailure(ctx, "reset", identity, err)
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to reset usage record")
	}
	return nil
}

// Sweep removes records whose last call is older than now-maxAge. Keys are
// snapshotted first; each record is then re-read and removed under its own lock
// so concurrent Record calls are never lost. Unreadable records are removed too.
func (l *Ledger) Sweep(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	keys, err := l.store.Keys(ctx, KeyPrefix)
	if err != nil {
		l.storeFailure(ctx, "sweep", "", err)
		return 0, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to list usage records")
	}

	removed, failed := 0, 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		ok, err := l.sweepOne(ctx, strings.TrimPrefix(key, KeyPrefix), now, maxAge)
		if err != nil {
			failed++
			continue
		}
		if ok {
			removed++
		}
	}

	if failed > 0 {
		return removed, dErrors.New(dErrors.CodeStoreUnavailable, fmt.Sprintf("sweep skipped %d of %d usage records", failed, len(keys)))
	}
	return removed, nil
}

func (l *Ledger) sweepOne(ctx context.Context, identity string, now time.Time, maxAge time.Duration) (bool, error) {
	l.locks.Lock(identity)
	defer l.locks.Unlock(identity)

	rec, err := l.load(ctx, identity)
	var corrupt *corruptRecordError
	switch {
	case errors.As(err, &corrupt):
		l.logger.WarnContext(ctx, "removing unreadable usage record", "identity", identity, "error", err)
	case err != nil:
		l.storeFailure(ctx, "sweep", identity, err)
		return false, err
	case rec == nil || !rec.StaleAt(now, maxAge):
		return false, nil
	}

	if err := l.store.Delete(ctx, Key(identity)); err != nil {
		l.storeFailure(ctx, "sweep", identity, err)
		return false, err
	}
	return true, nil
}

type corruptRecordError struct {
	err error
}

func (e *corruptRecordError) Error() string { return "corrupt usage record: " + e.err.Error() }
func (e *corruptRecordError) Unwrap() error { return e.err }

func (l *Ledger) load(ctx context.Context, identity string) (*models.UsageRecord, error) {
	raw, err := l.store.Get(ctx, Key(identity))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.UsageRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &corruptRecordError{err: err}
	}
	rec.Identity = identity
	return &rec, nil
}

func (l *Ledger) save(ctx context.Context, rec *models.UsageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode usage record: %w", err)
	}
	return l.store.Set(ctx, Key(rec.Identity), raw, 0)
}

func (l *Ledger) storeFailure(ctx context.Context, op, identity string, err error) {
	if l.metrics != nil {
		l.metrics.IncrementLedgerErrors(op)
	}
	l.logger.ErrorContext(ctx, "usage ledger store failure",
		"op", op,
		"identity", identity,
		"error", err,
	)
}
