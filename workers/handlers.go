// Package workers provides ready-made pool workers.
//
// HandlerWorker lets one pool serve many kinds of work. Jobs name a
// handler registered in a Handlers set; the worker builds the handler from
// the job's message and runs it:
//
//	handlers := workers.NewHandlers()
//	handlers.Register("greet", func(msg any) any { return &Greeting{To: msg} })
//
//	p, _ := pool.New(workers.NewHandlerWorker(handlers))
//	q.Push(ctx, workers.NewMessage("greet", "Mary"))
package workers

import (
	"context"
	"slices"
	"sync"
)

// Handler runs one message
type Handler interface {
	Perform(ctx context.Context) (any, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context) (any, error)

func (f HandlerFunc) Perform(ctx context.Context) (any, error) {
	return f(ctx)
}

// Constructor builds a handler from a job message. The result is checked
// for a Perform method when the job runs, not at registration.
type Constructor func(msg any) any

// Handlers is a thread-safe set of handler constructors keyed by name
type Handlers struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewHandlers creates an empty handler set
func NewHandlers() *Handlers {
	return &Handlers{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor for a handler name
func (h *Handlers) Register(name string, constructor Constructor) error {
	if name == "" {
		return ErrMissingHandlerName
	}

	if constructor == nil {
		return ErrInvalidHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.constructors[name] = constructor
	return nil
}

// Get retrieves a constructor by name
func (h *Handlers) Get(name string) (Constructor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	constructor, ok := h.constructors[name]
	return constructor, ok
}

// List returns registered handler names in sorted order
func (h *Handlers) List() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.constructors))
	for name := range h.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Remove unregisters a handler
func (h *Handlers) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.constructors, name)
}

// Clear removes all registered handlers
func (h *Handlers) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.constructors = make(map[string]Constructor)
}
