package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chronoshq/chronos/internal/domain"
)

// Handler executes one attempt of a job. The payload and job metadata come
// in on the job; the returned map is persisted as the attempt's result.
// Handlers must respect ctx: it carries the execution timeout.
type Handler func(ctx context.Context, job *domain.Job) (map[string]any, error)

// Registry maps task types to handlers. Registration normally happens at
// startup before the worker runs, but the registry is safe for concurrent
// use so tests and dynamic setups can add handlers later.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type, replacing any previous binding.
func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", taskType)
	}
	r.mu.Lock()
	r.handlers[taskType] = h
	r.mu.Unlock()
	return nil
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// TaskTypes lists the registered task types, sorted.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
