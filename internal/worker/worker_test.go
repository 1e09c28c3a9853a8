package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/executor"
	"github.com/kestrelqueue/taskqueue/internal/handler"
	"github.com/kestrelqueue/taskqueue/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, registry *handler.Registry) (*Worker, *executor.Executor) {
	t.Helper()
	ex := executor.New(executor.Config{MaxThreads: 4})
	w := New(Config{Queue: "default", BatchSize: 2, PollInterval: 5 * time.Millisecond}, nil, ex, registry, nil, testLogger())
	return w, ex
}

func TestRunTask_Completed_OnNilHandlerError(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("noop", func(ctx context.Context, task *domain.Task) error { return nil })
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "noop"})
	if outcome.Kind != repository.OutcomeCompleted {
		t.Errorf("kind = %v, want OutcomeCompleted", outcome.Kind)
	}
}

func TestRunTask_UnknownHandler_IsFailed(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "ghost"})
	if outcome.Kind != repository.OutcomeFailed {
		t.Errorf("kind = %v, want OutcomeFailed", outcome.Kind)
	}
	if outcome.Error == nil || *outcome.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestRunTask_ControlledRetry_WithDelay(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("flaky", func(ctx context.Context, task *domain.Task) error {
		return domain.RetryAfter(errors.New("try again"), 2*time.Second)
	})
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "flaky", RetryNum: 0, MaxRetries: 3})
	if outcome.Kind != repository.OutcomeRetry {
		t.Fatalf("kind = %v, want OutcomeRetry", outcome.Kind)
	}
	if outcome.RetryDelay != 2*time.Second {
		t.Errorf("delay = %v, want 2s", outcome.RetryDelay)
	}
	if outcome.RetryIncr != 1 {
		t.Errorf("retry_incr = %d, want 1", outcome.RetryIncr)
	}
}

func TestRunTask_NoopRetry_DoesNotIncrement(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("flaky", func(ctx context.Context, task *domain.Task) error {
		return domain.RetryNoop(errors.New("not ready"), 3*time.Second)
	})
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "flaky", RetryNum: 2, MaxRetries: 3})
	if outcome.Kind != repository.OutcomeRetry {
		t.Fatalf("kind = %v, want OutcomeRetry", outcome.Kind)
	}
	if outcome.RetryIncr != 0 {
		t.Errorf("retry_incr = %d, want 0 for noop strategy", outcome.RetryIncr)
	}
}

func TestRunTask_ControlledRetry_ExceedingBudget_IsFailed(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("flaky", func(ctx context.Context, task *domain.Task) error {
		return domain.Retry(errors.New("try again"))
	})
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "flaky", RetryNum: 3, MaxRetries: 3})
	if outcome.Kind != repository.OutcomeFailed {
		t.Errorf("kind = %v, want OutcomeFailed", outcome.Kind)
	}
}

func TestRunTask_UncontrolledError_RetriesWithinBudget(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("boom", func(ctx context.Context, task *domain.Task) error {
		return errors.New("kaboom")
	})
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "boom", RetryNum: 0, MaxRetries: 1})
	if outcome.Kind != repository.OutcomeRetry {
		t.Fatalf("kind = %v, want OutcomeRetry", outcome.Kind)
	}
	if outcome.RetryDelay != domain.DefaultRetryDelay {
		t.Errorf("delay = %v, want default %v", outcome.RetryDelay, domain.DefaultRetryDelay)
	}
}

func TestRunTask_UncontrolledError_ExhaustsToFailed(t *testing.T) {
	registry := handler.NewRegistry()
	registry.RegisterFunc("boom", func(ctx context.Context, task *domain.Task) error {
		return errors.New("kaboom")
	})
	registry.Seal()

	w, ex := newTestWorker(t, registry)
	defer ex.Shutdown(context.Background())

	outcome := w.runTask(context.Background(), &domain.Task{ID: "t1", Name: "boom", RetryNum: 1, MaxRetries: 1})
	if outcome.Kind != repository.OutcomeFailed {
		t.Errorf("kind = %v, want OutcomeFailed", outcome.Kind)
	}
}

// ---- dispatch / event-loop tests ----

type fakeTaskRepo struct {
	pollClaim func(ctx context.Context, queue string, limit int, fn func(context.Context, repository.Batch) ([]repository.Outcome, error)) (int, error)
}

func (r *fakeTaskRepo) Insert(ctx context.Context, conn repository.Conn, t *domain.Task) (string, error) {
	panic("not used")
}
func (r *fakeTaskRepo) PollClaim(ctx context.Context, queue string, limit int, fn func(context.Context, repository.Batch) ([]repository.Outcome, error)) (int, error) {
	return r.pollClaim(ctx, queue, limit, fn)
}
func (r *fakeTaskRepo) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	panic("not used")
}

func TestRun_ExitsOnPoolClosed(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Seal()

	repo := &fakeTaskRepo{
		pollClaim: func(ctx context.Context, queue string, limit int, fn func(context.Context, repository.Batch) ([]repository.Outcome, error)) (int, error) {
			return 0, domain.ErrPoolClosed
		},
	}

	ex := executor.New(executor.Config{MaxThreads: 2})
	defer ex.Shutdown(context.Background())

	w := New(Config{Queue: "default", BatchSize: 2, PollInterval: time.Millisecond}, repo, ex, registry, nil, testLogger())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after observing pool closed")
	}
}

func TestRun_ShutdownStopsLoopPromptly(t *testing.T) {
	registry := handler.NewRegistry()
	registry.Seal()

	repo := &fakeTaskRepo{
		pollClaim: func(ctx context.Context, queue string, limit int, fn func(context.Context, repository.Batch) ([]repository.Outcome, error)) (int, error) {
			return 0, nil
		},
	}

	ex := executor.New(executor.Config{MaxThreads: 2})
	defer ex.Shutdown(context.Background())

	w := New(Config{Queue: "default", BatchSize: 2, PollInterval: time.Minute}, repo, ex, registry, nil, testLogger())

	go w.Run(context.Background())
	time.Sleep(20 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
