package caps

import (
	"context"
	"sync"
)

// Evaluator is a permission-check listener. It receives the permission map
// accumulated so far, the capabilities the host is checking, the raw check
// arguments, and the resolved user, and returns the updated map. Evaluators
// must be pure and fast: they run inline on every permission check.
type Evaluator interface {
	Evaluate(ctx context.Context, allcaps map[string]bool, requested []string, args []any, user *User) map[string]bool
}

type registration struct {
	priority int
	seq      uint64
	ev       Evaluator
}

// Registry is the process-wide ordered collection of permission-check
// listeners. Listeners run in ascending priority order; within one priority
// they run in registration order, so a later registration's contribution is
// merged last and wins on overlapping keys.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	entries []registration
}

// NewRegistry returns an empty listener registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts ev into the call sequence at the given priority.
// Evaluators must be comparable values (typically pointers) so they can be
// removed again by identity.
func (r *Registry) Register(ev Evaluator, priority int) {
	if ev == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg := registration{priority: priority, seq: r.seq, ev: ev}
	idx := len(r.entries)
	for i, e := range r.entries {
		if e.priority > priority {
			idx = i
			break
		}
	}
	r.entries = append(r.entries, registration{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = reg
}

// Unregister removes the registration of ev at the given priority and reports
// whether one was found. Other registrations keep their order.
func (r *Registry) Unregister(ev Evaluator, priority int) bool {
	if ev == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.priority == priority && e.ev == ev {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evaluators returns the registered listeners in call order.
func (r *Registry) Evaluators() []Evaluator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Evaluator, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.ev
	}
	return out
}

// Dispatch runs every listener in order, threading the permission map
// through the chain, and returns the final map. The initial map is copied,
// never mutated.
func (r *Registry) Dispatch(ctx context.Context, initial map[string]bool, requested []string, args []any, user *User) map[string]bool {
	r.mu.Lock()
	snapshot := make([]Evaluator, len(r.entries))
	for i, e := range r.entries {
		snapshot[i] = e.ev
	}
	r.mu.Unlock()

	allcaps := make(map[string]bool, len(initial))
	for k, v := range initial {
		allcaps[k] = v
	}
	for _, ev := range snapshot {
		allcaps = ev.Evaluate(ctx, allcaps, requested, args, user)
	}
	return allcaps
}
