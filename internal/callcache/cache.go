// Package callcache memoizes remote call results in the shared key-value store
// under "cache:{operation}:{hash}" keys.
package callcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"

	"callgate/internal/platform/kvstore"
)

// KeyPrefix namespaces cache keys in the shared store.
const KeyPrefix = "cache:"

// Entry is the stored form of a cached result. It is valid while now is
// before StoredAt+TTL.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"stored_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Valid reports whether the entry may be served at now.
func (e Entry) Valid(now time.Time) bool {
	return now.Before(e.StoredAt.Add(e.TTL))
}

// KeyHasher reduces normalized parameters to a short key component.
type KeyHasher interface {
	Hash(normalized []byte) string
}

// XXHasher hashes with xxHash64 and hex encodes the sum.
type XXHasher struct{}

func (XXHasher) Hash(normalized []byte) string {
	return strconv.FormatUint(xxhash.Sum64(normalized), 16)
}

// Metrics receives cache signals. The invoker metrics satisfy it.
type Metrics interface {
	IncrementCacheHits(operation string)
	IncrementCacheMisses(operation string)
	IncrementCacheErrors(operation, action string)
}

// Cache serves results for identical (operation, params) pairs until their TTL
// lapses. It never fails a caller: store errors turn reads into misses and
// writes into no-ops.
type Cache struct {
	store   kvstore.Store
	hasher  KeyHasher
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics Metrics
}

type Option func(*Cache)

func WithHasher(h KeyHasher) Option {
	return func(c *Cache) {
		if h != nil {
			c.hasher = h
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func New(store kvstore.Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	c := &Cache{
		store:  store,
		hasher: XXHasher{},
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key returns the store key for operation and params. Params that differ only
// in map key order or insignificant whitespace share a key.
func (c *Cache) Key(operation string, params any) (string, error) {
	normalized, err := Normalize(params)
	if err != nil {
		return "", err
	}
	return KeyPrefix + operation + ":" + c.hasher.Hash(normalized), nil
}

// Get returns the cached payload, if a valid entry exists. Expired and
// unreadable entries are deleted.
func (c *Cache) Get(ctx context.Context, operation string, params any) (json.RawMessage, bool) {
	key, err := c.Key(operation, params)
	if err != nil {
		c.logger.WarnContext(ctx, "cache key unavailable", "operation", operation, "error", err)
		c.miss(operation)
		return nil, false
	}

	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		c.miss(operation)
		return nil, false
	}
	if err != nil {
		c.storeFailure(ctx, operation, "get", err)
		c.miss(operation)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || !entry.Valid(c.clock.Now()) {
		if err != nil {
			c.logger.WarnContext(ctx, "discarding unreadable cache entry", "key", key, "error", err)
		}
		if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			c.storeFailure(ctx, operation, "delete", err)
		}
		c.miss(operation)
		return nil, false
	}

	if c.metrics != nil {
		c.metrics.IncrementCacheHits(operation)
	}
	return entry.Payload, true
}

// Put stores payload for ttl. A non-positive ttl stores nothing.
func (c *Cache) Put(ctx context.Context, operation string, params any, payload json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key, err := c.Key(operation, params)
	if err != nil {
		c.logger.WarnContext(ctx, "cache key unavailable", "operation", operation, "error", err)
		return
	}

	raw, err := json.Marshal(Entry{Payload: payload, StoredAt: c.clock.Now(), TTL: ttl})
	if err != nil {
		c.logger.WarnContext(ctx, "cache entry not encodable", "operation", operation, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.storeFailure(ctx, operation, "put", err)
	}
}

// Normalize renders params as canonical JSON: objects with sorted keys,
// numbers as written, no insignificant whitespace.
func Normalize(params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to normalize params: %w", err)
	}
	return json.Marshal(generic)
}

func (c *Cache) miss(operation string) {
	if c.metrics != nil {
		c.metrics.IncrementCacheMisses(operation)
	}
}

func (c *Cache) storeFailure(ctx context.Context, operation, action string, err error) {
	if c.metrics != nil {
		c.metrics.IncrementCacheErrors(operation, action)
	}
	c.logger.ErrorContext(ctx, "result cache store failure",
		"operation", operation,
		"action", action,
		"error", err,
	)
}
