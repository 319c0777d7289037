package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// Listener receives backend lifecycle events. Strategies subscribe so they
// can invalidate caches and rings when the topology changes. Callbacks run
// synchronously on the goroutine performing the Add/Remove, after the
// structural change is visible.
type Listener interface {
	OnBackendAdded(b *backend.Backend)
	OnBackendRemoved(b *backend.Backend)
}

// Registry owns the backend set. The set itself is published copy-on-write
// through an atomic reference, so snapshots are safe to iterate while other
// goroutines add or remove backends. Writers serialize on a mutex.
type Registry struct {
	logger *slog.Logger

	mutex    sync.Mutex
	set      atomic.Pointer[[]*backend.Backend]
	listener []Listener
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	r := &Registry{logger: logger}
	empty := make([]*backend.Backend, 0)
	r.set.Store(&empty)
	return r
}

// Subscribe registers a lifecycle listener. Intended for startup wiring,
// before traffic flows; subscription is serialized with Add/Remove.
func (r *Registry) Subscribe(l Listener) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.listener = append(r.listener, l)
}

// Add registers a backend and notifies listeners. IDs must be unique.
func (r *Registry) Add(b *backend.Backend) error {
	r.mutex.Lock()

	current := *r.set.Load()
	for _, existing := range current {
		if existing.ID() == b.ID() {
			r.mutex.Unlock()
			return fmt.Errorf("registry: backend %q already registered", b.ID())
		}
	}

	next := make([]*backend.Backend, len(current), len(current)+1)
	copy(next, current)
	next = append(next, b)
	r.set.Store(&next)

	listeners := r.listener
	r.mutex.Unlock()

	r.logger.Info("Backend registered",
		slog.String("id", b.ID()),
		slog.String("url", b.URL().String()),
		slog.Int("weight", b.Weight()))

	for _, l := range listeners {
		l.OnBackendAdded(b)
	}

	return nil
}

// Remove deletes the backend with the given id and notifies listeners.
// Returns false if no such backend exists.
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()

	current := *r.set.Load()
	var removed *backend.Backend
	next := make([]*backend.Backend, 0, len(current))

	for _, b := range current {
		if b.ID() == id {
			removed = b
			continue
		}
		next = append(next, b)
	}

	if removed == nil {
		r.mutex.Unlock()
		return false
	}

	r.set.Store(&next)
	listeners := r.listener
	r.mutex.Unlock()

	r.logger.Info("Backend removed", slog.String("id", id))

	for _, l := range listeners {
		l.OnBackendRemoved(removed)
	}

	return true
}

// Get returns the backend with the given id, or nil.
func (r *Registry) Get(id string) *backend.Backend {
	for _, b := range *r.set.Load() {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

// Backends returns the current backend set. The returned slice is a
// copy-on-write snapshot; callers must not mutate it.
func (r *Registry) Backends() []*backend.Backend {
	return *r.set.Load()
}

// HealthySnapshot returns the backends whose health flag was true at call
// time, in registration order. The slice is freshly allocated and immutable
// from the registry's point of view.
func (r *Registry) HealthySnapshot() []*backend.Backend {
	current := *r.set.Load()

	healthy := make([]*backend.Backend, 0, len(current))
	for _, b := range current {
		if b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}

	return healthy
}
