package job

import (
	"context"
	"sync"
)

// Func is a callable a Job can be bound to: resolved args/kwargs in, a
// value (or *response.Response) out.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry is jobflow's named-callable registry — the "function decoration
// surface" §6 calls for. A Job stores a stable string CallableName rather
// than a Go func value (so it stays plain and JSON-serializable); Run looks
// the callable up in a Registry at invocation time.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{fns: map[string]Func{}}
}

// Register binds name to fn, overwriting any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

func (r *Registry) lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide Registry used when a Job is built
// without one explicitly supplied — convenient for scripts and tests, the
// same role quaero's package-level default logger/config plays.
func DefaultRegistry() *Registry { return defaultRegistry }

// Task is the thin decorator-equivalent of the original python jobflow's
// @job decorator: registering a function once returns a factory that
// builds Jobs bound to it, rather than evaluating the function immediately.
type Task struct {
	registry *Registry
	name     string
	opts     []Option
}

// Register binds fn under name in registry and returns a Task factory for
// building Jobs from it. opts are applied to every Job the Task builds,
// before any per-call options.
func Register(registry *Registry, name string, fn Func, opts ...Option) *Task {
	registry.Register(name, fn)
	return &Task{registry: registry, name: name, opts: opts}
}

// New builds a Job bound to this Task's callable with the given arguments,
// without invoking it.
func (t *Task) New(args []any, kwargs map[string]any, extra ...Option) *Job {
	allOpts := make([]Option, 0, len(t.opts)+len(extra))
	allOpts = append(allOpts, t.opts...)
	allOpts = append(allOpts, extra...)
	return New(t.registry, t.name, t.name, args, kwargs, allOpts...)
}
