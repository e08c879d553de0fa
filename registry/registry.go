// Package registry holds running queues by name.
//
// A Registry is an ordinary value: create one with New and pass it to
// whatever needs to look queues up. There is no process-wide instance.
package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/BranchIntl/windup/errors"
	"github.com/BranchIntl/windup/queue"
)

// Registry is a thread-safe set of queues keyed by name
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*queue.Queue
	logger *slog.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		queues: make(map[string]*queue.Queue),
		logger: slog.Default(),
	}
}

// SetLogger replaces the logger used for overwrite warnings
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds q under its name. A queue already registered under that
// name is shut down and replaced.
func (r *Registry) Register(ctx context.Context, q *queue.Queue) error {
	if q == nil {
		return errors.ErrMissingQueueName
	}

	r.mu.Lock()
	existing := r.queues[q.Name()]
	r.queues[q.Name()] = q
	logger := r.logger
	r.mu.Unlock()

	if existing == nil || existing == q {
		return nil
	}

	logger.Warn("Overwriting registered queue", "queue", q.Name())
	if err := existing.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown replaced queue %s: %w", q.Name(), err)
	}
	return nil
}

// Add registers q only if its name is free
func (r *Registry) Add(q *queue.Queue) error {
	if q == nil {
		return errors.ErrMissingQueueName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[q.Name()]; ok {
		return fmt.Errorf("%w: %s", errors.ErrQueueExists, q.Name())
	}
	r.queues[q.Name()] = q
	return nil
}

// Get retrieves a queue by name
func (r *Registry) Get(name string) (*queue.Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	return q, ok
}

// List returns registered names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove unregisters a queue without shutting it down
func (r *Registry) Remove(name string) (*queue.Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[name]
	delete(r.queues, name)
	return q, ok
}

// Clear unregisters every queue
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queues = make(map[string]*queue.Queue)
}

// Shutdown unregisters and shuts down every queue
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*queue.Queue)
	r.mu.Unlock()

	var errs []error
	for name, q := range queues {
		if err := q.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue %s: %w", name, err))
		}
	}
	return stderrors.Join(errs...)
}
