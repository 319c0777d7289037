package strategy

import (
	"log/slog"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

// leastConnMaxRetries bounds the CAS loop so selection always makes progress
// under contention.
const leastConnMaxRetries = 3

// leastConnStrategy routes each request to the backend with the fewest
// active connections. Finding the minimum and reserving it are made
// observably atomic with a compare-and-set on the backend's counter: if
// another goroutine wins the race, the argmin is recomputed and the attempt
// retried. After leastConnMaxRetries failures the current argmin is reserved
// with a plain increment, trading strict minimality for liveness.
type leastConnStrategy struct {
	base
	logger *slog.Logger
}

// NewLeastConnStrategy creates a least-connections strategy instance.
func NewLeastConnStrategy(logger *slog.Logger) Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &leastConnStrategy{logger: logger}
}

func (l *leastConnStrategy) Name() string {
	return LeastConnections
}

func (l *leastConnStrategy) Select(healthy []*backend.Backend, _ string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	for retry := 0; retry < leastConnMaxRetries; retry++ {
		min := argminConnections(healthy)

		current := min.ActiveConnections()
		if min.TryIncrementConnections(current) {
			return min, nil
		}

		l.logger.Debug("Least-connections CAS lost, retrying",
			slog.String("backend", min.ID()),
			slog.Int("attempt", retry+1))
	}

	fallback := argminConnections(healthy)
	fallback.IncrementConnections()

	l.logger.Debug("Least-connections fallback after contention",
		slog.String("backend", fallback.ID()))

	return fallback, nil
}

// argminConnections returns the backend minimizing (connections, id)
// lexicographically; the id tiebreak keeps selection deterministic.
func argminConnections(healthy []*backend.Backend) *backend.Backend {
	min := healthy[0]
	minConns := min.ActiveConnections()

	for _, b := range healthy[1:] {
		conns := b.ActiveConnections()
		if conns < minConns || (conns == minConns && b.ID() < min.ID()) {
			min = b
			minConns = conns
		}
	}

	return min
}
