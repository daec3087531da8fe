// Command paywalld serves the paywall HTTP API.
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

	goredis "github.com/redis/go-redis/v9"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/api"
	audithook "github.com/erasekit/paywall/audit_hook"
	"github.com/erasekit/paywall/cache"
	rediscache "github.com/erasekit/paywall/cache/redis"
	"github.com/erasekit/paywall/edit"
	"github.com/erasekit/paywall/observability"
	"github.com/erasekit/paywall/receipt"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewPrometheusFactory()

	statusCache, closeCache, err := newStatusCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	engine := paywall.New(st,
		paywall.WithLogger(logger),
		paywall.WithFreeUsageLimit(cfg.FreeUsageLimit),
		paywall.WithDevBypass(cfg.DevMode),
		paywall.WithStatusCache(statusCache),
		paywall.WithStatusCacheTTL(cfg.StatusCacheTTL),
		paywall.WithVerifier(receipt.NewApple(
			receipt.WithSharedSecret(cfg.AppleSharedSecret),
			receipt.WithTimeout(cfg.AppleVerifyTimeout),
			receipt.WithLogger(logger),
		)),
		paywall.WithPlugin(observability.NewMetricsExtension(metrics)),
		paywall.WithPlugin(audithook.New(logRecorder(logger), audithook.WithLogger(logger))),
	)
	if err := engine.Start(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Error("engine stop failed", "error", err)
		}
	}()

	editor := edit.NewArk(
		edit.WithAPIKey(cfg.ArkAPIKey),
		edit.WithEndpoint(cfg.ArkEndpoint),
		edit.WithModel(cfg.ArkModel),
		edit.WithTimeout(cfg.ArkTimeout),
		edit.WithLogger(logger),
	)
	if editor.Mock() {
		logger.Warn("ARK_API_KEY not set, edits echo the input image")
	}

	handler := api.NewHandler(engine,
		api.WithEditor(editor),
		api.WithLogger(logger),
		api.WithMaxImageBytes(cfg.MaxImageBytes()),
	)
	router := api.NewRouter(handler, api.WithAllowedOrigins(cfg.CORSOrigins...))
	router.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "free_usage_limit", cfg.FreeUsageLimit)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		logger.Info("shutdown signal received, gracefully shutting down")
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// newStatusCache returns a redis cache when REDIS_URL is set, otherwise an
// in-process one.
func newStatusCache(ctx context.Context, cfg Config, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewMemory(), func() {}, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis status cache enabled", "addr", opts.Addr)

	return rediscache.New(client), func() { _ = client.Close() }, nil
}

// logRecorder writes audit events to the structured log.
func logRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
			"reason", evt.Reason,
			"metadata", evt.Metadata,
		)
		return nil
	})
}
