package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plexus-gateway/plexus/internal/auth"
	"github.com/plexus-gateway/plexus/internal/cache"
	"github.com/plexus-gateway/plexus/internal/config"
	"github.com/plexus-gateway/plexus/internal/cooldown"
	"github.com/plexus-gateway/plexus/internal/invoke"
	"github.com/plexus-gateway/plexus/internal/metrics"
	"github.com/plexus-gateway/plexus/internal/quota"
	"github.com/plexus-gateway/plexus/internal/ratelimit"
	"github.com/plexus-gateway/plexus/internal/router"
	"github.com/plexus-gateway/plexus/internal/server"
	"github.com/plexus-gateway/plexus/internal/storage/debugstore"
	"github.com/plexus-gateway/plexus/internal/storage/sqlite"
	"github.com/plexus-gateway/plexus/internal/telemetry"
	"github.com/plexus-gateway/plexus/internal/tokencount"
	"github.com/plexus-gateway/plexus/internal/usage"
	"github.com/plexus-gateway/plexus/internal/worker"
	"go.opentelemetry.io/otel/trace"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Server.LogLevel)

	store, err := config.NewStore(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting plexus", "version", version, "port", cfg.Server.Port)

	db, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	cd := cooldown.NewManager()
	applyCooldownPolicies(cd, store.Current())

	qt := quota.NewTracker(db)
	ctx := context.Background()
	if err := qt.Restore(ctx); err != nil {
		slog.Warn("quota state restore failed", "error", err)
	}

	routerSvc := router.New(store.Current, cd, qt)
	invoker := invoke.New()
	apiKeyAuth := auth.NewAPIKeyAuth(store)

	rateLimiter := ratelimit.NewRegistry()
	tokenCounter := tokencount.NewCounter()

	var respCache cache.Cache
	if cfg.Cache.Enabled {
		mc, cacheErr := cache.NewMemory(cfg.Cache.MaxSize, time.Duration(cfg.Cache.DefaultTTL)*time.Second)
		if cacheErr != nil {
			return cacheErr
		}
		respCache = mc
		slog.Info("response cache enabled", "max_size", cfg.Cache.MaxSize, "default_ttl", cfg.Cache.DefaultTTL)
	}

	usageRecorder := usage.New(db)

	workers := []worker.Worker{usageRecorder, worker.NewCooldownEvictor(cd)}

	var debugStore *debugstore.Store
	if cfg.Debug.Enabled {
		debugStore, err = debugstore.New(cfg.Debug.Dir)
		if err != nil {
			return fmt.Errorf("debug store: %w", err)
		}
		retention := time.Duration(cfg.Debug.RetentionHours) * time.Hour
		workers = append(workers, worker.NewDebugGC(debugStore, retention))
		slog.Info("debug artifact store enabled", "dir", cfg.Debug.Dir, "retention_hours", cfg.Debug.RetentionHours)
	}

	// DefaultRegisterer backs promhttp.Handler() (internal/server mounts it
	// with no registry argument), and already carries the process/Go
	// collectors client_golang registers on it at init.
	promMetrics := metrics.New(prometheus.DefaultRegisterer)
	aggregator := metrics.NewAggregator()
	slog.Info("prometheus metrics enabled")

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, tErr := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if tErr != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", tErr)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("plexus/server")
			slog.Info("opentelemetry tracing enabled",
				"endpoint", cfg.Telemetry.Tracing.Endpoint,
				"sample_rate", cfg.Telemetry.Tracing.SampleRate)
		}
	}

	handler := server.New(server.Deps{
		ConfigStore:  store,
		Auth:         apiKeyAuth,
		Router:       routerSvc,
		Invoker:      invoker,
		Cooldown:     cd,
		Quota:        qt,
		Cache:        respCache,
		RateLimiter:  rateLimiter,
		TokenCounter: tokenCounter,
		Usage:        usageRecorder,
		Metrics:      promMetrics,
		Aggregator:   aggregator,
		Debug:        debugStore,
		Tracer:       tracer,
		DefaultRPM:   cfg.Server.DefaultRPM,
		DefaultTPM:   cfg.Server.DefaultTPM,
		Version:      version,
		ReadyCheck:   db.Ping,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.Server.RequestTimeoutS) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutS) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	runner := worker.NewRunner(workers...)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				if n := rateLimiter.EvictStale(time.Now().Add(-1 * time.Hour)); n > 0 {
					slog.Info("rate limiter eviction", "evicted", n)
				}
			}
		}
	}()

	// Reapply per-provider cooldown policy overrides whenever configuration
	// is hot-reloaded, so a policy change in providers.*.cooldown takes
	// effect without a restart.
	go func() {
		ch, unsubscribe := store.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-workerCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				applyCooldownPolicies(cd, store.Current())
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("plexus ready", "addr", srv.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutS)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("plexus stopped")
	return nil
}

// setupLogging installs a slog text handler at the configured level as the
// process-wide default, so every package's plain slog.Info/Warn/Error calls
// respect server.logLevel without each needing its own logger.
func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// applyCooldownPolicies installs per-provider cooldown.Policy overrides from
// snap's declared providers.*.cooldown blocks.
func applyCooldownPolicies(cd *cooldown.Manager, snap *config.Snapshot) {
	for id, p := range snap.Providers {
		if p.Cooldown == nil {
			continue
		}
		o := p.Cooldown
		cd.SetPolicy(id, cooldown.Policy{
			RateLimitMinSeconds:   o.RateLimitSeconds,
			RateLimitCapSeconds:   o.RateLimitCapSeconds,
			AuthErrorSeconds:      o.AuthErrorSeconds,
			TimeoutSeconds:        o.TimeoutSeconds,
			TimeoutCapSeconds:     o.TimeoutCapSeconds,
			ServerErrorSeconds:    o.ServerErrorSeconds,
			ServerErrorCapSeconds: o.ServerErrorCapSeconds,
			ConnectionSeconds:     o.ConnectionErrorSeconds,
			ConnectionCapSeconds:  o.ConnectionCapSeconds,
		})
	}
}
