// The worker binary runs a standalone job processor against a shared store.
// Scale out by running more of these; the claim protocol in the store keeps
// every job on at most one worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chronoshq/chronos/internal/config"
	"github.com/chronoshq/chronos/internal/observability"
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

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	registry := worker.NewRegistry()
	if err := tasks.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register builtin handlers: %w", err)
	}

	workerCfg := worker.DefaultConfig(cfg.Worker.WorkerID)
	workerCfg.Concurrency = cfg.Worker.Concurrency
	workerCfg.PollInterval = cfg.Worker.PollInterval
	workerCfg.StaleCheckInterval = cfg.Worker.StaleCheckInterval
	workerCfg.DrainTimeout = cfg.Worker.DrainTimeout

	w := worker.New(store, registry, workerCfg, logger)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	slog.InfoContext(ctx, "worker running",
		"worker_id", w.WorkerID(),
		"concurrency", workerCfg.Concurrency,
		"task_types", registry.TaskTypes())

	<-ctx.Done()
	slog.Info("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := w.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop worker: %w", err)
	}
	return nil
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

// shutdownProvider flushes an observability provider with a bounded timeout.
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
