// Package scheduler implements the Scheduler component of spec.md §4.4:
// cron-defined tasks registered into scheduled_task, armed against a
// single-thread timer, and fired under a row lock so only one cluster
// node executes a given firing window.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/executor"
	"github.com/kestrelqueue/taskqueue/internal/handler"
	"github.com/kestrelqueue/taskqueue/internal/metrics"
	"github.com/kestrelqueue/taskqueue/internal/repository"
	"github.com/robfig/cron/v3"
)

// Entry is one in-memory schedule definition, loaded at startup — the
// `{id, cron, task, props?}` shape from spec.md §6.3.
type Entry struct {
	ID    string
	Cron  string
	Task  string // handler name to invoke on firing
	Props map[string]any
}

// Scheduler owns its timer resource exclusively: only its own arm/fire
// cycle touches cancels.
type Scheduler struct {
	entries  []Entry
	repo     repository.ScheduledTaskRepository
	handlers *handler.Registry
	executor *executor.Executor
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	schedule map[string]cron.Schedule
	cancels  map[string]executor.Cancel
}

// New validates that every entry references a registered handler
// (spec.md §4.4 step 1 — unknown handler names are a fatal
// ConfigurationError) and parses each cron expression.
func New(entries []Entry, repo repository.ScheduledTaskRepository, handlers *handler.Registry, ex *executor.Executor, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	parsed := make(map[string]cron.Schedule, len(entries))
	for _, e := range entries {
		if _, ok := handlers.Lookup(e.Task); !ok {
			return nil, &domain.ConfigurationError{
				Msg: fmt.Sprintf("schedule %q references unregistered handler %q", e.ID, e.Task),
			}
		}
		sched, err := cron.ParseStandard(e.Cron)
		if err != nil {
			return nil, &domain.ConfigurationError{
				Msg: fmt.Sprintf("schedule %q has invalid cron expression %q: %v", e.ID, e.Cron, err),
			}
		}
		parsed[e.ID] = sched
	}

	return &Scheduler{
		entries:  entries,
		repo:     repo,
		handlers: handlers,
		executor: ex,
		metrics:  m,
		logger:   logger.With("component", "scheduler"),
		schedule: parsed,
		cancels:  make(map[string]executor.Cancel),
	}, nil
}

// Start upserts every entry into scheduled_task and arms its first
// firing (spec.md §4.4 steps 1-2).
func (s *Scheduler) Start(ctx context.Context) error {
	for _, e := range s.entries {
		if err := s.repo.Upsert(ctx, e.ID, e.Cron); err != nil {
			return err
		}
		s.arm(ctx, e)
	}
	return nil
}

// Stop cancels every armed-but-not-yet-fired timer. In-flight firings
// finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
}

func (s *Scheduler) arm(ctx context.Context, e Entry) {
	next := nextValidFireTime(s.schedule[e.ID], time.Now())
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	cancel := s.executor.Schedule(delay, func() {
		s.fire(ctx, e)
	})

	s.mu.Lock()
	s.cancels[e.ID] = cancel
	s.mu.Unlock()
}

// fire implements the firing protocol of spec.md §4.4: row-locked
// invocation, then unconditional re-arm regardless of outcome — a
// handler panic path never halts the periodic schedule.
func (s *Scheduler) fire(ctx context.Context, e Entry) {
	defer s.arm(ctx, e)

	err := s.repo.Fire(ctx, e.ID, func(ctx context.Context) error {
		return s.invoke(ctx, e)
	})

	switch {
	case errors.Is(err, domain.ErrNoScheduleMatch):
		// Another node won the row lock for this window — silent skip.
		s.recordFiring(e.ID, "skipped")
	case err != nil:
		s.logger.Error("schedule firing failed", "id", e.ID, "task", e.Task, "err", err)
		s.recordFiring(e.ID, "error")
	default:
		s.recordFiring(e.ID, "ok")
	}
}

func (s *Scheduler) invoke(ctx context.Context, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %q panicked: %v", e.Task, r)
		}
	}()

	h, ok := s.handlers.Lookup(e.Task)
	if !ok {
		// New validated this; only reachable if the registry was
		// mutated concurrently, which Register forbids after Seal.
		return &domain.ConfigurationError{Msg: "unregistered handler " + e.Task}
	}

	props, err := json.Marshal(e.Props)
	if err != nil {
		return err
	}

	return h.Handle(ctx, &domain.Task{
		ID:          e.ID,
		Name:        e.Task,
		Props:       props,
		ScheduledAt: time.Now(),
	})
}

func (s *Scheduler) recordFiring(id, outcome string) {
	if s.metrics != nil {
		s.metrics.SchedulerFirings.WithLabelValues(id, outcome).Inc()
	}
}

// nextValidFireTime computes the next fire time strictly after `after`,
// skipping any missed runs — spec.md §4.4 step 2/3's
// ms_until_next_valid.
func nextValidFireTime(sched cron.Schedule, after time.Time) time.Time {
	next := sched.Next(after)
	now := time.Now()
	for next.Before(now) {
		next = sched.Next(next)
	}
	return next
}
