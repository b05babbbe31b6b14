package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"callgate/internal/callcache"
	"callgate/internal/invoker"
	invokermetrics "callgate/internal/invoker/metrics"
	"callgate/internal/invoker/tracer"
	"callgate/internal/platform/config"
	"callgate/internal/platform/health"
	"callgate/internal/platform/kvstore"
	"callgate/internal/platform/logger"
	"callgate/internal/remote"
	httptransport "callgate/internal/transport/http"
	usageconfig "callgate/internal/usage/config"
	"callgate/internal/usage/fingerprint"
	"callgate/internal/usage/governor"
	"callgate/internal/usage/handler"
	"callgate/internal/usage/ledger"
	usagemetrics "callgate/internal/usage/metrics"
	"callgate/internal/usage/policy"
	"callgate/internal/usage/workers/sweep"
	"callgate/pkg/platform/middleware/metadata"
	"callgate/pkg/platform/middleware/request"
)

const redisPoolStatsInterval = 15 * time.Second

// main wires dependencies and runs the HTTP server, the sweep worker and the
// Redis pool reporter until SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("callgate exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("callgate stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	usageCfg, err := usageconfig.FromEnv()
	if err != nil {
		return fmt.Errorf("load usage config: %w", err)
	}
	trusted, err := metadata.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}

	log.Info("initializing callgate",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"store", cfg.Store,
		"tiers", len(usageCfg.Tiers),
	)

	reg := prometheus.DefaultRegisterer
	usageMetrics := usagemetrics.New(reg)
	invokerMetrics := invokermetrics.New(reg)
	probes := health.New(cfg.Environment)

	backend, err := openStore(ctx, cfg, log, usageMetrics, probes)
	if err != nil {
		return err
	}
	defer backend.Close()

	pol, err := policy.New(usageCfg.Tiers)
	if err != nil {
		return fmt.Errorf("build tier policy: %w", err)
	}
	led, err := ledger.New(backend.store, pol,
		ledger.WithLogger(log),
		ledger.WithMetrics(usageMetrics),
	)
	if err != nil {
		return fmt.Errorf("build usage ledger: %w", err)
	}
	gov, err := governor.New(fingerprint.New(fingerprint.ContextEnvironment{}), led, pol,
		governor.WithLogger(log),
		governor.WithMetrics(usageMetrics),
		governor.WithBlockMessage(usageCfg.BlockMessage),
	)
	if err != nil {
		return fmt.Errorf("build governor: %w", err)
	}

	cache, err := callcache.New(backend.store,
		callcache.WithLogger(log),
		callcache.WithMetrics(invokerMetrics),
	)
	if err != nil {
		return fmt.Errorf("build result cache: %w", err)
	}
	inv, err := invoker.New(cache,
		invoker.WithLogger(log),
		invoker.WithMetrics(invokerMetrics),
		invoker.WithTracer(tracer.NewOTel()),
		invoker.WithDefaultRetry(invoker.RetryPolicy{
			MaxAttempts: usageCfg.Retry.MaxAttempts,
			BaseDelay:   usageCfg.Retry.BaseDelay,
			Multiplier:  usageCfg.Retry.Multiplier,
			MaxDelay:    usageCfg.Retry.MaxDelay,
		}),
	)
	if err != nil {
		return fmt.Errorf("build invoker: %w", err)
	}
	client, err := remote.New(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.Timeout,
	})
	if err != nil {
		return fmt.Errorf("build remote client (REMOTE_BASE_URL): %w", err)
	}

	sweepOpts := []sweep.Option{
		sweep.WithLogger(log),
		sweep.WithMetrics(usageMetrics),
		sweep.WithInterval(usageCfg.SweepInterval),
		sweep.WithMaxAge(usageCfg.SweepMaxAge),
	}
	if purger, ok := backend.store.(kvstore.Purger); ok {
		sweepOpts = append(sweepOpts, sweep.WithExpiryPurge(purger))
	}
	worker := sweep.New(led, sweepOpts...)

	usageHandler := handler.New(gov, inv, client, usageCfg,
		handler.WithLogger(log),
		handler.WithMetrics(usageMetrics),
		handler.WithOperations(operations(usageCfg)...),
		handler.WithAdmin(led, worker),
	)
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set; admin endpoints will reject every request")
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         log,
		TrustedProxies: trusted,
		AdminToken:     cfg.AdminToken,
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Metrics:        request.NewMetrics(reg),
		Gatherer:       prometheus.DefaultGatherer,
	}, usageHandler, probes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := worker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if backend.redis != nil {
		g.Go(func() error {
			return backend.redis.RunPoolStats(gctx, redisPoolStatsInterval)
		})
	}
	return g.Wait()
}

// operations lists the remote operations callers may invoke: the built-in
// pair plus any operation given its own cache TTL.
func operations(cfg *usageconfig.Config) []string {
	set := map[string]struct{}{
		usageconfig.OperationGenerate: {},
		usageconfig.OperationAnalyze:  {},
	}
	for op := range cfg.CacheTTLs {
		set[op] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}
