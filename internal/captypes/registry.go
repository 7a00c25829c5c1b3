package captypes

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// EventKind names a registry lifecycle transition.
type EventKind string

const (
	EventRegistered   EventKind = "type.registered"
	EventUnregistered EventKind = "type.unregistered"
)

// Registry holds the content types and taxonomies currently known to the
// process. Types come and go at runtime; consumers must re-query on every
// lookup rather than cache resolution results.
type Registry struct {
	mu         sync.RWMutex
	contentTyp map[string]*Type
	taxonomies map[string]*Type

	// OnEvent, when set, is invoked after every successful register or
	// unregister. Set it before the registry is shared.
	OnEvent func(kind EventKind, t *Type)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		contentTyp: make(map[string]*Type),
		taxonomies: make(map[string]*Type),
	}
}

// Register adds a type under its kind's namespace. Registering a name that
// already exists in that namespace is a conflict.
func (r *Registry) Register(t *Type) error {
	if err := t.validate(); err != nil {
		return err
	}
	name := strings.TrimSpace(t.Name)

	r.mu.Lock()
	bucket := r.bucket(t.Kind)
	if _, ok := bucket[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s %q", ErrConflict, t.Kind, name)
	}
	cp := *t
	cp.Name = name
	bucket[name] = &cp
	r.mu.Unlock()

	r.emit(EventRegistered, &cp)
	return nil
}

// Unregister removes a type. Removing an unknown name is a no-op and
// reports false.
func (r *Registry) Unregister(kind Kind, name string) bool {
	name = strings.TrimSpace(name)

	r.mu.Lock()
	bucket := r.bucket(kind)
	t, ok := bucket[name]
	if ok {
		delete(bucket, name)
	}
	r.mu.Unlock()

	if ok {
		r.emit(EventUnregistered, t)
	}
	return ok
}

// LookupContentType returns the content type registered under name.
func (r *Registry) LookupContentType(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.contentTyp[strings.TrimSpace(name)]
	return t, ok
}

// LookupTaxonomy returns the taxonomy registered under name.
func (r *Registry) LookupTaxonomy(name string) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.taxonomies[strings.TrimSpace(name)]
	return t, ok
}

// All returns every registered type, content types first, each group ordered
// by name.
func (r *Registry) All() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.contentTyp)+len(r.taxonomies))
	for _, bucket := range []map[string]*Type{r.contentTyp, r.taxonomies} {
		names := make([]string, 0, len(bucket))
		for name := range bucket {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, bucket[name])
		}
	}
	return out
}

func (r *Registry) bucket(kind Kind) map[string]*Type {
	if kind == KindTaxonomy {
		return r.taxonomies
	}
	return r.contentTyp
}

func (r *Registry) emit(kind EventKind, t *Type) {
	if r.OnEvent != nil {
		r.OnEvent(kind, t)
	}
}
