package domain

import "time"

// Status is the lifecycle state of a task row. Transitions form a DAG:
// new -> {retry, completed, failed}; retry -> {retry, completed, failed}.
// completed and failed are terminal.
type Status string

const (
	StatusNew       Status = "new"
	StatusRetry     Status = "retry"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Eligible reports whether a task with this status is a candidate for
// the worker's poll query (the scheduled_at comparison happens in SQL).
func (s Status) Eligible() bool {
	return s == StatusNew || s == StatusRetry
}

// Task is one row of the task table: a unit of work submitted by a
// Submitter and claimed, executed and resolved by a Worker.
type Task struct {
	ID          string
	Name        string
	Props       []byte // opaque JSON-encoded payload
	Queue       string
	Priority    int
	MaxRetries  int
	RetryNum    int
	ScheduledAt time.Time
	Status      Status
	Error       *string
	ModifiedAt  time.Time
	CompletedAt *time.Time
}

// DecodeProps unmarshals Props into v. Handlers call this to recover
// their typed payload from the opaque column.
func (t *Task) DecodeProps(v any) error {
	return decodeJSON(t.Props, v)
}
