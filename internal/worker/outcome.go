package worker

import (
	"context"
	"errors"
	"time"

	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/executor"
	"github.com/kestrelqueue/taskqueue/internal/repository"
	"github.com/kestrelqueue/taskqueue/internal/requestid"
)

// runBatch dispatches every row in batch to the executor concurrently,
// awaits all futures, and returns their outcomes for the caller (the
// repository's PollClaim transaction) to persist. It is spec.md §4.3.1's
// "for each row: dispatch run_task via executor, collect futures; await
// all futures" step.
func (w *Worker) runBatch(ctx context.Context, batch repository.Batch) ([]repository.Outcome, error) {
	futures := make([]*executor.Future[repository.Outcome], len(batch.Tasks))
	for i, t := range batch.Tasks {
		t := t
		future, err := executor.Submit(w.executor, func() (repository.Outcome, error) {
			return w.runTask(ctx, t), nil
		})
		if err != nil {
			return nil, err
		}
		futures[i] = future
	}

	outcomes := make([]repository.Outcome, len(futures))
	for i, future := range futures {
		outcome, err := future.Wait(ctx)
		if err != nil {
			return nil, err
		}
		outcomes[i] = outcome
	}
	return outcomes, nil
}

// runTask implements spec.md §4.3.2: invoke the handler registered for
// task.Name and classify the result into Completed, Retry, or Failed.
func (w *Worker) runTask(ctx context.Context, t *domain.Task) repository.Outcome {
	if w.metrics != nil {
		w.metrics.TasksCheckoutTiming.Observe(time.Since(t.ScheduledAt).Seconds())
	}

	h, ok := w.handlers.Lookup(t.Name)
	if !ok {
		w.logger.Warn("unknown handler", "task_id", t.ID, "name", t.Name)
		msg := domain.ErrUnknownHandler.Error() + ": " + t.Name
		return repository.Outcome{TaskID: t.ID, Kind: repository.OutcomeFailed, Error: &msg}
	}

	start := time.Now()
	err := h.Handle(ctx, t)
	if w.metrics != nil {
		w.metrics.TasksTiming.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
	}

	if err == nil {
		return repository.Outcome{TaskID: t.ID, Kind: repository.OutcomeCompleted}
	}

	var retry *domain.HandlerRetry
	if errors.As(err, &retry) {
		return w.controlledRetry(t, retry)
	}

	return w.uncontrolledFailure(t, err)
}

func (w *Worker) controlledRetry(t *domain.Task, retry *domain.HandlerRetry) repository.Outcome {
	delay := retry.Delay
	if delay <= 0 {
		delay = domain.DefaultRetryDelay
	}
	msg := retry.Error()

	if retry.Strategy == domain.RetryStrategyNoop {
		return repository.Outcome{
			TaskID: t.ID, Kind: repository.OutcomeRetry,
			Error: &msg, RetryDelay: delay, RetryIncr: 0,
		}
	}

	if t.RetryNum+1 > t.MaxRetries {
		return repository.Outcome{TaskID: t.ID, Kind: repository.OutcomeFailed, Error: &msg}
	}
	return repository.Outcome{
		TaskID: t.ID, Kind: repository.OutcomeRetry,
		Error: &msg, RetryDelay: delay, RetryIncr: 1,
	}
}

func (w *Worker) uncontrolledFailure(t *domain.Task, cause error) repository.Outcome {
	corrID := requestid.New()
	failure := &domain.HandlerFailure{CorrelationID: corrID, Cause: cause}
	w.logger.Error("handler failure", "task_id", t.ID, "name", t.Name, "correlation_id", corrID, "err", cause)

	msg := failure.Error()
	if t.RetryNum >= t.MaxRetries {
		return repository.Outcome{TaskID: t.ID, Kind: repository.OutcomeFailed, Error: &msg}
	}
	return repository.Outcome{
		TaskID: t.ID, Kind: repository.OutcomeRetry,
		Error: &msg, RetryDelay: domain.DefaultRetryDelay, RetryIncr: 1,
	}
}
