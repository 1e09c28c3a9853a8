package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kestrelqueue/taskqueue/internal/domain"
)

// Conn is satisfied by *pgxpool.Pool and pgx.Tx alike, letting Submit
// participate in a caller-supplied transaction (spec.md §4.2).
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Batch is the result of one poll step.
type Batch struct {
	Tasks []*domain.Task
}

// TaskRepository is the storage boundary the Worker and Submitter
// consume. PollClaim executes the whole poll-step transaction from
// spec.md §4.3.1 — claim, caller processes, then each row's outcome is
// written back — all within the same transaction the implementation
// manages.
type TaskRepository interface {
	// Insert persists a freshly submitted task row and returns its id.
	Insert(ctx context.Context, conn Conn, t *domain.Task) (string, error)

	// PollClaim runs fn inside a single transaction after claiming up to
	// limit eligible rows from queue with FOR UPDATE SKIP LOCKED, ordered
	// by priority DESC, scheduled_at ASC. If no rows are eligible, fn is
	// not called and PollClaim returns (0, nil). fn's returned
	// outcomes are written back to the claimed rows before the
	// transaction commits.
	PollClaim(ctx context.Context, queue string, limit int, fn func(ctx context.Context, batch Batch) ([]Outcome, error)) (processed int, err error)

	// GetByID is used by tests and callers that need to observe a task's
	// persisted state (round-trip verification, etc).
	GetByID(ctx context.Context, id string) (*domain.Task, error)
}

// Outcome is what the worker decides for one claimed task, to be
// persisted by the matching SQL in spec.md §4.3.2.
type Outcome struct {
	TaskID     string
	Kind       OutcomeKind
	Error      *string
	RetryDelay time.Duration
	RetryIncr  int // 0 for noop-strategy retries, 1 otherwise
}

// OutcomeKind discriminates the three terminal actions a run_task
// invocation can produce.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRetry
	OutcomeFailed
)
