package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callgate/internal/platform/config"
	"callgate/internal/platform/database"
	"callgate/internal/platform/health"
	"callgate/internal/platform/kvstore"
	"callgate/internal/platform/redis"
	"callgate/migrations"
	"callgate/pkg/platform/circuit"
)

// storeBackend is the shared key-value store plus whatever connection owns it.
type storeBackend struct {
	store kvstore.Store
	redis *redis.Client
	db    *database.Pool
}

func (b *storeBackend) Close() {
	if b.redis != nil {
		_ = b.redis.Close() //nolint:errcheck // shutting down
	}
	if b.db != nil {
		_ = b.db.Close() //nolint:errcheck // shutting down
	}
}

// openStore connects the configured backend, wraps it in a circuit breaker and
// registers readiness checks for it.
func openStore(ctx context.Context, cfg config.Server, log *slog.Logger, m kvstore.StoreMetrics, probes *health.Handler) (*storeBackend, error) {
	b := &storeBackend{}
	var raw kvstore.Store

	switch cfg.Store {
	case config.StoreMemory:
		raw = kvstore.NewMemory()
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		if client == nil {
			return nil, errors.New("STORE_BACKEND=redis requires REDIS_URL")
		}
		b.redis = client
		raw = kvstore.NewRedis(client.Client, cfg.Redis.Namespace)
		probes.RegisterCheck("redis", client.Health)
	case config.StorePostgres:
		pool, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if pool == nil {
			return nil, errors.New("STORE_BACKEND=postgres requires DATABASE_URL")
		}
		b.db = pool
		if err := migrations.Apply(ctx, pool.DB()); err != nil {
			b.Close()
			return nil, fmt.Errorf("apply postgres schema: %w", err)
		}
		raw = kvstore.NewPostgres(pool.DB())
		probes.RegisterCheck("postgres", pool.Health)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store)
	}

	guarded := kvstore.NewGuarded(raw,
		circuit.New("kvstore",
			circuit.WithFailureThreshold(5),
			circuit.WithOpenTimeout(10*time.Second),
		),
		kvstore.WithGuardLogger(log),
		kvstore.WithGuardMetrics(m),
	)
	probes.RegisterCheck("store_circuit", func(context.Context) error { return guarded.Health() })
	b.store = guarded

	log.Info("key-value store ready", "backend", cfg.Store)
	return b, nil
}
