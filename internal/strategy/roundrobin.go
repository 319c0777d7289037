package strategy

import (
	"sync/atomic"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

type roundRobinStrategy struct {
	base
	current atomic.Uint64
}

// NewRoundRobinStrategy creates a round-robin strategy instance.
func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}

func (rb *roundRobinStrategy) Name() string {
	return RoundRobin
}

// Select cycles through the healthy backends in order. The counter may run
// far past the list length; the modulo keeps the index bounded, so overflow
// wraps harmlessly.
func (rb *roundRobinStrategy) Select(healthy []*backend.Backend, _ string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	n := rb.current.Add(1)
	chosen := healthy[(n-1)%uint64(len(healthy))]
	chosen.IncrementConnections()

	return chosen, nil
}
