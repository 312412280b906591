package engine

import (
	"maps"
	"slices"
	"sync"
)

// Registry holds one controller per subject, created on first use.
// Controllers of different subjects share nothing.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry[C any] struct {
	mu       sync.Mutex
	byID     map[string]C
	create   func(subjectID string) C
	onForget func(C)
}

// NewRegistry creates a registry that builds controllers with create.
// onForget, if set, runs for each controller dropped by Forget.
func NewRegistry[C any](create func(subjectID string) C, onForget func(C)) *Registry[C] {
	return &Registry[C]{
		byID:     make(map[string]C),
		create:   create,
		onForget: onForget,
	}
}

// Get returns the subject's controller, creating it if needed.
func (r *Registry[C]) Get(subjectID string) C {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[subjectID]
	if !ok {
		c = r.create(subjectID)
		r.byID[subjectID] = c
	}
	return c
}

// Forget drops the subject's controller, as on sign-out.
func (r *Registry[C]) Forget(subjectID string) {
	r.mu.Lock()
	c, ok := r.byID[subjectID]
	delete(r.byID, subjectID)
	r.mu.Unlock()
	if ok && r.onForget != nil {
		r.onForget(c)
	}
}

// Subjects returns the subjects with a live controller, sorted.
func (r *Registry[C]) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.byID))
}
