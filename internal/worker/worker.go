// Package worker implements the Worker component of spec.md §4.3: a
// per-queue polling event loop that claims due tasks under a row-locked
// transaction, dispatches them to handlers through the executor, and
// records the outcome.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/executor"
	"github.com/kestrelqueue/taskqueue/internal/handler"
	"github.com/kestrelqueue/taskqueue/internal/metrics"
	"github.com/kestrelqueue/taskqueue/internal/repository"
)

const (
	defaultBatchSize    = 2
	defaultPollInterval = 5 * time.Second
)

// Config mirrors spec.md §6.3's Worker configuration block.
type Config struct {
	Name         string
	Queue        string
	BatchSize    int
	PollInterval time.Duration
}

func (c Config) normalize() Config {
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Worker polls one queue and runs handler invocations through an
// executor. A Worker owns its polling loop exclusively — only Run's
// goroutine touches the loop's state.
type Worker struct {
	cfg      Config
	repo     repository.TaskRepository
	executor *executor.Executor
	handlers *handler.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	shutdown chan struct{}
	done     chan struct{}
}

func New(cfg Config, repo repository.TaskRepository, ex *executor.Executor, handlers *handler.Registry, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:      cfg.normalize(),
		repo:     repo,
		executor: ex,
		handlers: handlers,
		metrics:  m,
		logger:   logger,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Shutdown signals the loop to exit at its next selection point and
// blocks until it has. Safe to call more than once.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.closeShutdown()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) closeShutdown() {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
}

// pollKind discriminates the two poll-step outcomes spec.md §4.3
// dispatches on when the poll itself raised no error.
type pollKind int

const (
	pollEmpty pollKind = iota
	pollHandled
)

// Run executes the event loop described in spec.md §4.3 until Shutdown
// is called. It returns when the loop exits.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-w.shutdown:
			return
		default:
		}

		resultCh := make(chan struct {
			kind pollKind
			err  error
		}, 1)

		future, err := executor.Submit(w.executor, func() (pollKind, error) {
			return w.pollStep(ctx)
		})
		if err != nil {
			// Executor already shut down underneath us — treat like a
			// pool closure: exit cleanly.
			w.logger.Info("worker exiting: executor closed", "worker", w.cfg.Name)
			return
		}

		go func() {
			kind, err := future.Wait(ctx)
			resultCh <- struct {
				kind pollKind
				err  error
			}{kind, err}
		}()

		// Shutdown wins ties: check it first before the real select.
		select {
		case <-w.shutdown:
			return
		default:
		}

		var res struct {
			kind pollKind
			err  error
		}
		select {
		case <-w.shutdown:
			return
		case res = <-resultCh:
		}

		if w.dispatch(res.kind, res.err) {
			return
		}
	}
}

// dispatch implements spec.md §4.3's dispatch table. It returns true
// when the loop should exit (pool closed).
func (w *Worker) dispatch(kind pollKind, err error) (exit bool) {
	if err == nil {
		switch kind {
		case pollEmpty:
			if w.metrics != nil {
				w.metrics.PollResultTotal.WithLabelValues("empty").Inc()
			}
			w.sleep(w.cfg.PollInterval)
		case pollHandled:
			if w.metrics != nil {
				w.metrics.PollResultTotal.WithLabelValues("handled").Inc()
			}
			// Resume immediately, no sleep.
		}
		return false
	}

	if errors.Is(err, domain.ErrPoolClosed) {
		w.logger.Error("worker exiting: pool closed", "worker", w.cfg.Name)
		if w.metrics != nil {
			w.metrics.PollResultTotal.WithLabelValues("pool_closed").Inc()
		}
		return true
	}

	var transient *domain.TransientStorageError
	if errors.As(err, &transient) {
		if transient.Serialization() {
			w.logger.Debug("serialization failure, resuming", "worker", w.cfg.Name, "err", err)
		} else {
			w.logger.Warn("connection loss, resuming", "worker", w.cfg.Name, "sqlstate", transient.SQLState, "err", err)
		}
		if w.metrics != nil {
			w.metrics.PollResultTotal.WithLabelValues("transient_error").Inc()
		}
		w.sleep(w.cfg.PollInterval)
		return false
	}

	w.logger.Error("poll step failed", "worker", w.cfg.Name, "err", err)
	if w.metrics != nil {
		w.metrics.PollResultTotal.WithLabelValues("error").Inc()
	}
	w.sleep(w.cfg.PollInterval)
	return false
}

// sleep waits for d, waking early if shutdown fires.
func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.shutdown:
	}
}

// pollStep runs one poll-claim transaction (spec.md §4.3.1) and maps
// its result onto pollKind. The NIL dispatch-table case from spec.md
// §4.3 ("poll returned absence") has no analogue here: PollClaim's
// (int, error) signature makes that state structurally unreachable in
// Go, so it is not modeled.
func (w *Worker) pollStep(ctx context.Context) (pollKind, error) {
	processed, err := w.repo.PollClaim(ctx, w.cfg.Queue, w.cfg.BatchSize, w.runBatch)
	if w.metrics != nil {
		w.metrics.QueueDepth.WithLabelValues(w.cfg.Queue).Set(float64(processed))
		w.metrics.ExecutorInFlight.WithLabelValues(w.cfg.Name).Set(float64(w.executor.InFlight()))
	}
	if err != nil {
		return pollEmpty, err
	}
	if processed == 0 {
		return pollEmpty, nil
	}
	return pollHandled, nil
}
