package strategy

import (
	"sync"
	"sync/atomic"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// weightedRoundRobinStrategy distributes requests proportionally to backend
// weights using a pre-expanded list: each backend appears max(1, weight)
// times, and an atomic index walks the list. The expansion is immutable and
// swapped copy-on-write whenever the healthy set changes, so readers never
// take a lock; only rebuilds serialize on the mutex.
type weightedRoundRobinStrategy struct {
	base
	mutex     sync.Mutex
	expansion atomic.Pointer[[]*backend.Backend]
	index     atomic.Uint64
}

// NewWeightedRoundRobinStrategy creates a weighted round-robin strategy instance.
func NewWeightedRoundRobinStrategy() Strategy {
	return &weightedRoundRobinStrategy{}
}

func (w *weightedRoundRobinStrategy) Name() string {
	return WeightedRoundRobin
}

func (w *weightedRoundRobinStrategy) Init(backends []*backend.Backend) {
	healthy := make([]*backend.Backend, 0, len(backends))
	for _, b := range backends {
		if b.IsHealthy() {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) > 0 {
		w.rebuild(healthy)
	}
}

// Select returns expansion[index mod len] and reserves it. A concurrent
// rebuild may swap the expansion underneath; the old list stays valid for
// readers still holding it.
func (w *weightedRoundRobinStrategy) Select(healthy []*backend.Backend, _ string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	expansion := w.expansion.Load()
	if expansion == nil || len(*expansion) == 0 || needsRebuild(*expansion, healthy) {
		w.rebuild(healthy)
		expansion = w.expansion.Load()
	}

	list := *expansion
	index := (w.index.Add(1) - 1) % uint64(len(list))

	chosen := list[index]
	chosen.IncrementConnections()

	return chosen, nil
}

// ExpansionSize returns the length of the current expansion list.
func (w *weightedRoundRobinStrategy) ExpansionSize() int {
	expansion := w.expansion.Load()
	if expansion == nil {
		return 0
	}
	return len(*expansion)
}

// rebuild constructs a fresh expansion from the healthy snapshot, resets the
// index, and swaps the list reference. Rebuilds serialize with each other;
// the double-check avoids redundant rebuilds under a thundering herd.
func (w *weightedRoundRobinStrategy) rebuild(healthy []*backend.Backend) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if current := w.expansion.Load(); current != nil && len(*current) > 0 && !needsRebuild(*current, healthy) {
		return
	}

	size := 0
	for _, b := range healthy {
		size += max(1, b.Weight())
	}

	expansion := make([]*backend.Backend, 0, size)
	for _, b := range healthy {
		for i := 0; i < max(1, b.Weight()); i++ {
			expansion = append(expansion, b)
		}
	}

	w.index.Store(0)
	w.expansion.Store(&expansion)
}

// needsRebuild reports whether the distinct backends in the expansion differ
// from the healthy snapshot, compared by id.
func needsRebuild(expansion, healthy []*backend.Backend) bool {
	members := make(map[string]struct{}, len(expansion))
	for _, b := range expansion {
		members[b.ID()] = struct{}{}
	}

	if len(members) != len(healthy) {
		return true
	}

	for _, b := range healthy {
		if _, ok := members[b.ID()]; !ok {
			return true
		}
	}

	return false
}
