package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kestrelqueue/taskqueue/internal/domain"
)

// ScheduledTaskRepository implements repository.ScheduledTaskRepository
// against a pgxpool, using the same FOR UPDATE SKIP LOCKED pattern as
// TaskRepository so only one cluster node fires a given schedule in a
// given window (spec.md §4.4).
type ScheduledTaskRepository struct {
	pool *pgxpool.Pool
}

func NewScheduledTaskRepository(pool *pgxpool.Pool) *ScheduledTaskRepository {
	return &ScheduledTaskRepository{pool: pool}
}

func (r *ScheduledTaskRepository) Upsert(ctx context.Context, id, cronExpr string) error {
	const query = `
		INSERT INTO scheduled_task (id, cron_expr)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET cron_expr = EXCLUDED.cron_expr`

	if _, err := r.pool.Exec(ctx, query, id, cronExpr); err != nil {
		return &domain.StorageError{Op: "upsert scheduled_task", Err: classify(err)}
	}
	return nil
}

func (r *ScheduledTaskRepository) Fire(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var gotID string
	err = tx.QueryRow(ctx, `SELECT id FROM scheduled_task WHERE id = $1 FOR UPDATE SKIP LOCKED`, id).Scan(&gotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNoScheduleMatch
		}
		return classify(err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}
