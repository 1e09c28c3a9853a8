package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/repository"
)

// TaskRepository implements repository.TaskRepository against a
// pgxpool, using FOR UPDATE SKIP LOCKED for lock-free multi-worker
// coordination (spec.md §4.3.1).
type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) Insert(ctx context.Context, conn repository.Conn, t *domain.Task) (string, error) {
	if conn == nil {
		conn = r.pool
	}
	const query = `
		INSERT INTO task (name, props, queue, priority, max_retries, scheduled_at, status, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'new', clock_timestamp())
		RETURNING id`

	var id string
	err := conn.QueryRow(ctx, query, t.Name, t.Props, t.Queue, t.Priority, t.MaxRetries, t.ScheduledAt).Scan(&id)
	if err != nil {
		return "", &domain.StorageError{Op: "insert task", Err: classify(err)}
	}
	return id, nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	const query = `
		SELECT id, name, props, queue, priority, max_retries, retry_num,
		       scheduled_at, status, error, modified_at, completed_at
		FROM task WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, &domain.StorageError{Op: "get task", Err: classify(err)}
	}
	return t, nil
}

const selectEligibleQuery = `
	SELECT id, name, props, queue, priority, max_retries, retry_num,
	       scheduled_at, status, error, modified_at, completed_at
	FROM task
	WHERE scheduled_at <= clock_timestamp()
	  AND queue = $1
	  AND status IN ('new', 'retry')
	ORDER BY priority DESC, scheduled_at ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

// PollClaim runs the whole poll-step transaction from spec.md §4.3.1:
// claim up to limit eligible rows, hand them to fn, persist whatever
// outcomes fn returns, commit. If no rows are eligible fn is never
// called and PollClaim returns (0, nil) — the worker's EMPTY case.
func (r *TaskRepository) PollClaim(ctx context.Context, queue string, limit int, fn func(ctx context.Context, batch repository.Batch) ([]repository.Outcome, error)) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, selectEligibleQuery, queue, limit)
	if err != nil {
		return 0, classify(err)
	}

	var tasks []*domain.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			rows.Close()
			return 0, classify(scanErr)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classify(err)
	}

	if len(tasks) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return 0, classify(err)
		}
		committed = true
		return 0, nil
	}

	outcomes, err := fn(ctx, repository.Batch{Tasks: tasks})
	if err != nil {
		return 0, err
	}

	for _, o := range outcomes {
		if err := writeOutcome(ctx, tx, o); err != nil {
			return 0, classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	committed = true
	return len(tasks), nil
}

func writeOutcome(ctx context.Context, tx pgx.Tx, o repository.Outcome) error {
	switch o.Kind {
	case repository.OutcomeCompleted:
		_, err := tx.Exec(ctx, `
			UPDATE task SET completed_at = now(), modified_at = now(), status = 'completed'
			WHERE id = $1`, o.TaskID)
		return err
	case repository.OutcomeRetry:
		_, err := tx.Exec(ctx, `
			UPDATE task
			SET scheduled_at = clock_timestamp() + ($2 * INTERVAL '1 second'),
			    modified_at  = clock_timestamp(),
			    error        = $3,
			    status       = 'retry',
			    retry_num    = retry_num + $4
			WHERE id = $1`, o.TaskID, o.RetryDelay.Seconds(), o.Error, o.RetryIncr)
		return err
	case repository.OutcomeFailed:
		_, err := tx.Exec(ctx, `
			UPDATE task SET error = $2, modified_at = now(), status = 'failed'
			WHERE id = $1`, o.TaskID, o.Error)
		return err
	default:
		return fmt.Errorf("unknown outcome kind %d for task %s", o.Kind, o.TaskID)
	}
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.Name, &t.Props, &t.Queue, &t.Priority, &t.MaxRetries, &t.RetryNum,
		&t.ScheduledAt, &t.Status, &t.Error, &t.ModifiedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
