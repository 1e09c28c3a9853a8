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
	"github.com/kestrelqueue/taskqueue/internal/scheduler"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

// schedule is the in-memory cron entry list spec.md §3.2/§6.3 loads at
// startup. Operators embedding this binary replace this with their own
// entries.
var schedule = []scheduler.Entry{
	{ID: "housekeeping", Cron: "0 * * * *", Task: "noop"},
}

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

	scheduledRepo := postgres.NewScheduledTaskRepository(pool)

	ex := executor.New(executor.Config{
		Name:        "scheduler-timer",
		MinThreads:  1,
		MaxThreads:  1,
		IdleTimeout: cfg.ExecutorIdleTimeoutDuration(),
	})

	sched, err := scheduler.New(schedule, scheduledRepo, handlers, ex, m, logger)
	if err != nil {
		// ConfigurationError — fatal per spec.md §4.4 step 1.
		stop()
		log.Fatalf("scheduler config: %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		stop()
		log.Fatalf("scheduler start: %v", err)
	}
	logger.Info("scheduler armed", "entries", len(schedule))

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ex.Shutdown(shutdownCtx); err != nil {
		logger.Error("executor shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

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
