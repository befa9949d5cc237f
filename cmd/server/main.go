// The server binary runs the HTTP API with an embedded worker. Set
// CHRONOS_DISABLE_WORKER=true to run API-only against a shared store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronoshq/chronos/internal/config"
	"github.com/chronoshq/chronos/internal/domain"
	chronoshttp "github.com/chronoshq/chronos/internal/http"
	"github.com/chronoshq/chronos/internal/http/handler"
	"github.com/chronoshq/chronos/internal/observability"
	"github.com/chronoshq/chronos/internal/service"
	"github.com/chronoshq/chronos/internal/storage"
	"github.com/chronoshq/chronos/internal/storage/memory"
	"github.com/chronoshq/chronos/internal/storage/postgres"
	"github.com/chronoshq/chronos/internal/storage/sqlite"
	"github.com/chronoshq/chronos/internal/tasks"
	"github.com/chronoshq/chronos/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	obsCfg := observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.ServiceName,
	}

	lp, logger, err := observability.InitLogger(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer shutdownProvider(lp.Shutdown, "logger")
	slog.SetDefault(logger)

	tp, err := observability.InitTracerProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init tracer provider: %w", err)
	}
	defer shutdownProvider(tp.Shutdown, "tracer")

	mp, err := observability.InitMeterProvider(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer shutdownProvider(mp.Shutdown, "meter")

	slog.InfoContext(ctx, "starting chronos server", "storage", cfg.Storage.Type)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	svc := service.NewJobService(store, logger).
		WithRetryDefaults(domain.RetryPolicy{
			MaxRetries:    cfg.Retry.MaxRetries,
			RetryDelay:    cfg.Retry.BaseDelay,
			MaxRetryDelay: cfg.Retry.MaxDelay,
			Strategy:      domain.RetryStrategy(cfg.Retry.Strategy),
			JitterEnabled: cfg.Retry.JitterEnabled,
			JitterFactor:  cfg.Retry.JitterFactor,
		}).
		WithDefaultLockTimeout(cfg.Worker.LockTimeout)

	api := handler.New(svc, logger)
	server := chronoshttp.NewAPIServer(api.Routes(), chronoshttp.ServerConfig{
		Addr:         cfg.Server.HTTPAddr,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	var w *worker.Worker
	if cfg.Server.DisableWorker {
		slog.InfoContext(ctx, "embedded worker disabled")
	} else {
		w, err = startWorker(ctx, store, cfg.Worker, logger)
		if err != nil {
			return err
		}
	}

	errResult := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "HTTP server shutdown failed", "error", err)
		}
		if w != nil {
			if err := w.Stop(shutdownCtx); err != nil {
				slog.WarnContext(shutdownCtx, "worker shutdown failed", "error", err)
			}
		}
		return nil
	case err := <-errResult:
		return err
	}
}

// startWorker builds the registry with builtin handlers and starts the
// embedded worker.
func startWorker(ctx context.Context, store storage.Store, cfg config.WorkerConfig, logger *slog.Logger) (*worker.Worker, error) {
	registry := worker.NewRegistry()
	if err := tasks.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("failed to register builtin handlers: %w", err)
	}

	workerCfg := worker.DefaultConfig(cfg.WorkerID)
	workerCfg.Concurrency = cfg.Concurrency
	workerCfg.PollInterval = cfg.PollInterval
	workerCfg.StaleCheckInterval = cfg.StaleCheckInterval
	workerCfg.DrainTimeout = cfg.DrainTimeout

	w := worker.New(store, registry, workerCfg, logger)
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return w, nil
}

// openStore opens the configured storage backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case config.StoragePostgres:
		slog.InfoContext(ctx, "connecting to postgres", "url", maskPassword(cfg.PostgresURL))
		return postgres.Connect(ctx, cfg.PostgresURL)
	case config.StorageSQLite:
		slog.InfoContext(ctx, "opening sqlite store", "path", cfg.SQLitePath)
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.StorageMemory:
		slog.WarnContext(ctx, "using in-memory store, jobs are lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// shutdownProvider flushes an observability provider with a bounded timeout
// so an unreachable collector cannot hang shutdown.
func shutdownProvider(shutdown func(context.Context) error, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to shutdown provider", "provider", name, "error", err)
	}
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
