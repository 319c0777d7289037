package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// ErrNoHealthyBackend is returned by Select when the healthy snapshot is empty.
var ErrNoHealthyBackend = errors.New("strategy: no healthy backend available")

// Algorithm names accepted by New and by the algorithm query parameter.
const (
	RoundRobin         = "roundRobin"
	WeightedRoundRobin = "weightedRoundRobin"
	LeastConnections   = "leastConnections"
	LeastResponseTime  = "leastResponseTime"
	IPHash             = "ipHash"
	ConsistentHashing  = "consistentHashing"
)

// Strategy selects a backend for each request and records its outcome.
//
// Select must only be handed healthy backends; on success the chosen
// backend's connection count has already been incremented. Record must be
// called exactly once per successful Select: it decrements the connection
// count and, on success, feeds the backend's latency window.
type Strategy interface {
	Name() string
	Select(healthy []*backend.Backend, clientInfo string) (*backend.Backend, error)
	Record(b *backend.Backend, latency time.Duration, success bool)

	// Lifecycle hooks; no-ops unless the strategy keeps derived state.
	Init(backends []*backend.Backend)
	OnBackendAdded(b *backend.Backend)
	OnBackendRemoved(b *backend.Backend)
}

// Options carries the tunables shared across strategy constructors.
type Options struct {
	VirtualNodes int     // consistent hashing ring nodes per backend
	EWMAAlpha    float64 // least-response-time smoothing factor
	Logger       *slog.Logger
}

// New constructs the strategy named by algorithm.
func New(algorithm string, opts Options) (Strategy, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch algorithm {
	case RoundRobin:
		return NewRoundRobinStrategy(), nil
	case WeightedRoundRobin:
		return NewWeightedRoundRobinStrategy(), nil
	case LeastConnections:
		return NewLeastConnStrategy(opts.Logger), nil
	case LeastResponseTime:
		return NewLeastResponseTimeStrategy(opts.EWMAAlpha), nil
	case IPHash:
		return NewIPHashStrategy(opts.Logger), nil
	case ConsistentHashing:
		return NewConsistentHashStrategy(opts.VirtualNodes), nil
	default:
		return nil, fmt.Errorf("strategy: unknown algorithm %q", algorithm)
	}
}

// Names returns the accepted algorithm names in a stable order.
func Names() []string {
	return []string{
		RoundRobin,
		WeightedRoundRobin,
		LeastConnections,
		LeastResponseTime,
		IPHash,
		ConsistentHashing,
	}
}

// NewAll constructs one instance of every algorithm, keyed by name.
func NewAll(opts Options) (map[string]Strategy, error) {
	strategies := make(map[string]Strategy, len(Names()))
	for _, name := range Names() {
		s, err := New(name, opts)
		if err != nil {
			return nil, err
		}
		strategies[name] = s
	}
	return strategies, nil
}

// base provides the default Record and no-op lifecycle hooks.
type base struct{}

func (base) Record(b *backend.Backend, latency time.Duration, success bool) {
	b.DecrementConnections()
	if success {
		b.RecordLatency(latency)
	}
}

func (base) Init([]*backend.Backend)           {}
func (base) OnBackendAdded(*backend.Backend)   {}
func (base) OnBackendRemoved(*backend.Backend) {}
