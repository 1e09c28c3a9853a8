// Package submitter implements the Submitter component of spec.md §4.2:
// inserting a new task row with scheduling metadata and returning its id.
package submitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kestrelqueue/taskqueue/internal/domain"
	"github.com/kestrelqueue/taskqueue/internal/metrics"
	"github.com/kestrelqueue/taskqueue/internal/repository"
)

const (
	defaultQueue      = "default"
	defaultPriority   = 100
	defaultMaxRetries = 3
)

// Options carries the framework-reserved submit fields. Per SPEC_FULL.md's
// Open Question decision this replaces spec.md §4.2's single opts map plus
// reserved-key filter with the "strict reimplementation" shape spec.md §9
// offers as an alternative: meta and props as separate arguments.
type Options struct {
	Task       string // required: handler name
	Queue      string // default "default"
	Priority   int    // default 100
	MaxRetries int    // default 3
	Delay      time.Duration
}

// Submitter inserts task rows on behalf of callers.
type Submitter struct {
	repo    repository.TaskRepository
	metrics *metrics.Metrics
}

func New(repo repository.TaskRepository, m *metrics.Metrics) *Submitter {
	return &Submitter{repo: repo, metrics: m}
}

// Submit implements spec.md §4.2. conn participates in the caller's
// transaction; pass nil to let the repository use its own pool.
func (s *Submitter) Submit(ctx context.Context, conn repository.Conn, opts Options, props map[string]any) (string, error) {
	if opts.Task == "" {
		return "", &domain.ValidationError{Field: "task", Msg: "required"}
	}

	queue := opts.Queue
	if queue == "" {
		queue = defaultQueue
	}
	priority := opts.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	encoded, err := json.Marshal(props)
	if err != nil {
		return "", &domain.ValidationError{Field: "props", Msg: err.Error()}
	}

	t := &domain.Task{
		Name:        opts.Task,
		Props:       encoded,
		Queue:       queue,
		Priority:    priority,
		MaxRetries:  maxRetries,
		Status:      domain.StatusNew,
		ScheduledAt: time.Now().Add(opts.Delay),
	}

	id, err := s.repo.Insert(ctx, conn, t)
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.TasksSubmitTotal.WithLabelValues(opts.Task).Inc()
	}
	return id, nil
}
