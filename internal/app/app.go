// Package app wires the sync engine's leaf packages into a running
// process, following the teacher's internal/app/app.go shape: read
// config, connect infrastructure, build the domain engine, then hand off
// to an HTTP server for the rest of the process's life. Unlike the
// teacher, there is only one long-lived component to build (the engine)
// rather than a whole api/worker mode switch with many domain handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aurafall/syncengine/internal/adminserver"
	"github.com/aurafall/syncengine/internal/authsvc"
	"github.com/aurafall/syncengine/internal/config"
	"github.com/aurafall/syncengine/internal/httptransport"
	"github.com/aurafall/syncengine/internal/kvstore/memstore"
	"github.com/aurafall/syncengine/internal/kvstore/pgstore"
	"github.com/aurafall/syncengine/internal/kvstore/redisstore"
	"github.com/aurafall/syncengine/internal/logging"
	"github.com/aurafall/syncengine/internal/opsnotify"
	"github.com/aurafall/syncengine/internal/platform"
	"github.com/aurafall/syncengine/internal/realtime"
	"github.com/aurafall/syncengine/pkg/syncengine/apiclient"
	"github.com/aurafall/syncengine/pkg/syncengine/circuitbreaker"
	"github.com/aurafall/syncengine/pkg/syncengine/engine"
	"github.com/aurafall/syncengine/pkg/syncengine/failedarchive"
	"github.com/aurafall/syncengine/pkg/syncengine/idempotency"
	"github.com/aurafall/syncengine/pkg/syncengine/kvstore"
	"github.com/aurafall/syncengine/pkg/syncengine/lease"
	"github.com/aurafall/syncengine/pkg/syncengine/metrics"
	"github.com/aurafall/syncengine/pkg/syncengine/optimistic"
	"github.com/aurafall/syncengine/pkg/syncengine/pendingstore"
	"github.com/aurafall/syncengine/pkg/syncengine/router"
)

// Run is the main application entry point: it reads config, builds the
// sync engine's durable store and dependencies, starts the engine, and
// serves the admin HTTP surface until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting sync engine",
		"mode", cfg.Mode,
		"kv_backend", cfg.KVBackend,
		"listen", cfg.ListenAddr(),
	)

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening kv backend: %w", err)
	}
	defer closeBackend()

	eng, err := buildEngine(ctx, cfg, backend, logger)
	if err != nil {
		return fmt.Errorf("building sync engine: %w", err)
	}

	// "admin" mode serves the status/metrics surface against the shared
	// backend without contending for the dispatch lease — useful for a
	// read-only sidecar next to the runner(s) that actually drive sync.
	if cfg.Mode != "admin" {
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("starting sync engine: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := eng.Stop(stopCtx); err != nil {
				logger.Error("stopping sync engine", "error", err)
			}
		}()
	}

	metricsReg := adminserver.NewRegistry(metrics.All()...)
	srv := adminserver.NewServer(adminserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsPath:        cfg.MetricsPath,
	}, logger, eng, metricsReg)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openBackend constructs the kvstore.Store selected by cfg.KVBackend,
// running migrations first when the backend is postgres.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kvstore.Store, func(), error) {
	switch cfg.KVBackend {
	case "postgres":
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("kv_store migrations applied")

		pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		return store, func() { store.Close() }, nil

	case "redis":
		client, err := platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		store := redisstore.New(client)
		return store, func() { store.Close() }, nil

	case "memory", "":
		store := memstore.New()
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
}

// buildEngine assembles every syncengine leaf package against backend and
// returns the constructed orchestrator, not yet started.
func buildEngine(ctx context.Context, cfg *config.Config, backend kvstore.Store, logger *slog.Logger) (*engine.Engine, error) {
	pending, err := pendingstore.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("pendingstore: %w", err)
	}
	failed, err := failedarchive.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("failedarchive: %w", err)
	}
	leaseMgr, err := lease.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}
	circuit, err := circuitbreaker.New(ctx, backend, circuitbreaker.Config{})
	if err != nil {
		return nil, fmt.Errorf("circuitbreaker: %w", err)
	}
	idemCache, err := idempotency.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("idempotency: %w", err)
	}

	auth, err := authsvc.New(ctx, backend, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("authsvc: %w", err)
	}
	transport := httptransport.New(nil)
	client := apiclient.New(cfg.APIBaseURL, transport, auth, cfg.AppVersion, cfg.DeviceID, logger)

	var connectivity engine.Connectivity
	var realtimeCh <-chan engine.RealtimeEvent
	switch cfg.RealtimeTransport {
	case "redis":
		rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("realtime redis: %w", err)
		}
		sub := realtime.NewRedisSubscriber(rdb, logger)
		realtimeCh = sub.Listen(ctx)
	case "websocket":
		ws := realtime.NewWSClient(cfg.RealtimeWSURL, nil, logger)
		realtimeCh = ws.Listen(ctx)
		connectivity = ws
	case "":
		// disabled: the engine falls back to its ticker-only cadence.
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", cfg.RealtimeTransport)
	}

	eng, err := engine.New(engine.Deps{
		Backend:      backend,
		Client:       client,
		Router:       router.New(),
		Pending:      pending,
		Failed:       failed,
		Lease:        leaseMgr,
		Circuit:      circuit,
		Idempotency:  idemCache,
		Optimistic:   optimistic.New(),
		Logger:       logger,
		Connectivity: connectivity,
		Realtime:     realtimeCh,
		MaxAttempts:  cfg.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	if cfg.SlackBotToken != "" {
		notifier := opsnotify.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
		go watchFailedOps(ctx, failed, notifier, logger)
	}

	return eng, nil
}

// watchFailedOps polls the failed-ops archive for newly archived entries
// and forwards the review-worthy ones to Slack. The archive has no
// native change feed, so a short poll loop is the simplest faithful
// adaptation rather than inventing a pub/sub path solely for this.
func watchFailedOps(ctx context.Context, failed *failedarchive.Archive, notifier *opsnotify.Notifier, logger *slog.Logger) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ops, err := failed.All(ctx)
		if err != nil {
			logger.Error("watching failed ops", "error", err)
			continue
		}
		for _, f := range ops {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			if err := notifier.NotifyIfReviewWorthy(ctx, f); err != nil {
				logger.Error("notifying ops channel", "error", err, "op_id", f.ID)
			}
		}
	}
}
