// Package handler defines the task-handler contract and the in-memory
// registry the worker and scheduler dispatch against. Handler business
// logic itself is an external collaborator (spec.md §1) — this package
// only models the shape callers implement.
package handler

import (
	"context"
	"sync"

	"github.com/kestrelqueue/taskqueue/internal/domain"
)

// Handler is implemented by user task logic. It either returns nil
// (completed), a *domain.HandlerRetry (controlled retry), or any other
// error (uncontrolled exception — retried while budget remains, else
// failed).
type Handler interface {
	Handle(ctx context.Context, task *domain.Task) error
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, task *domain.Task) error

func (f Func) Handle(ctx context.Context, task *domain.Task) error { return f(ctx, task) }

// Registry is an immutable-after-init name -> Handler mapping shared by
// every Worker and Scheduler instance in the process. Registration
// happens once at startup; Lookup is safe for concurrent readers from
// many poll-step goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name. Panics if called after Seal or if
// name is already registered — handler wiring is a startup-time concern,
// not a runtime one.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic("handler: Register called after Seal for " + name)
	}
	if _, exists := r.handlers[name]; exists {
		panic("handler: duplicate registration for " + name)
	}
	r.handlers[name] = h
}

// RegisterFunc is sugar for Register(name, Func(fn)).
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, task *domain.Task) error) {
	r.Register(name, Func(fn))
}

// Seal freezes the registry against further registration. The worker
// and scheduler binaries call this once at startup, after registering
// their handlers; from then on Lookup requires no locking cost
// beyond the read-mutex fast path.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup returns the handler registered under name, if any.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered handler name, in no particular order.
// Scheduler startup validation checks entries with Lookup instead.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}
