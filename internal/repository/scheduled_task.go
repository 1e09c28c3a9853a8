package repository

import (
	"context"
	"time"
)

// ScheduledTaskRepository is the storage boundary the Scheduler
// consumes (spec.md §4.4).
type ScheduledTaskRepository interface {
	// Upsert writes id -> cron_expr, used at scheduler startup to
	// register every in-memory schedule entry.
	Upsert(ctx context.Context, id, cronExpr string) error

	// Fire runs fn under a row lock on scheduled_task.id (FOR UPDATE
	// SKIP LOCKED). If the row is locked elsewhere or missing, fn is not
	// called and Fire returns domain.ErrNoScheduleMatch — the caller
	// treats that as a silent skip, not an error to log loudly.
	Fire(ctx context.Context, id string, fn func(ctx context.Context) error) error
}

// NextValidFunc computes the next future fire time for a cron
// expression, skipping any missed runs — spec.md §4.4 step 2/3.
type NextValidFunc func(cronExpr string, after time.Time) (time.Time, error)
