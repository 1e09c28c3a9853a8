package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelqueue/taskqueue/config"
	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/executor"
	"github.com/kestrelqueue/taskqueue/internal/handler"
	"github.com/kestrelqueue/taskqueue/internal/health"
	ctxlog "github.com/kestrelqueue/taskqueue/internal/log"
	"github.com/kestrelqueue/taskqueue/internal/metrics"
	"github.com/kestrelqueue/taskqueue/internal/postgres"
	"github.com/kestrelqueue/taskqueue/internal/worker"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	handlers := handler.NewRegistry()
	registerHandlers(handlers)
	handlers.Seal()

	taskRepo := postgres.NewTaskRepository(pool)

	ex := executor.New(executor.Config{
		Name:        "worker",
		MinThreads:  cfg.ExecutorMinThreads,
		MaxThreads:  cfg.ExecutorMaxThreads,
		IdleTimeout: cfg.ExecutorIdleTimeoutDuration(),
	})

	w := worker.New(worker.Config{
		Name:         "worker-1",
		Queue:        cfg.Queue,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval(),
	}, taskRepo, ex, handlers, m, logger)

	go w.Run(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown", "error", err)
	}
	if err := ex.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

// registerHandlers wires the task-handler business logic spec.md §1
// treats as an external collaborator. Operators embedding this binary
// replace/extend this with their own handlers.
func registerHandlers(r *handler.Registry) {
	r.RegisterFunc("noop", func(ctx context.Context, task *domain.Task) error {
		return nil
	})
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
