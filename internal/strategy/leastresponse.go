package strategy

import (
	"sync"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
)

const (
	// defaultEWMAAlpha weights the newest sample at 30%.
	defaultEWMAAlpha = 0.3

	// initialResponseTimeMs scores a backend with no observations yet.
	initialResponseTimeMs = 1000.0

	// failurePenaltyMs is the synthetic sample recorded for a failed
	// request, pushing traffic away from a backend that keeps erroring
	// even if its observed latencies were low before it started timing out.
	failurePenaltyMs = 2 * initialResponseTimeMs
)

// responseTimeStats is a per-backend exponentially weighted moving average
// of response times, in milliseconds.
type responseTimeStats struct {
	mutex           sync.Mutex
	weightedAverage float64
	requestCount    int64
	initialized     bool
}

func newResponseTimeStats() *responseTimeStats {
	return &responseTimeStats{weightedAverage: initialResponseTimeMs}
}

// update folds a new sample into the average. The first real sample replaces
// the bootstrap value outright instead of being blended with it.
func (s *responseTimeStats) update(sampleMs, alpha float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.initialized {
		s.weightedAverage = sampleMs
		s.initialized = true
	} else {
		s.weightedAverage = alpha*sampleMs + (1-alpha)*s.weightedAverage
	}

	s.requestCount++
}

func (s *responseTimeStats) average() float64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.weightedAverage
}

// leastResponseTimeStrategy selects the backend with the lowest effective
// response time, combining the backend's recent-window mean with a
// strategy-local EWMA.
//
// Because selection always takes the argmin and the EWMA only rises on
// failure, a consistently fastest backend can absorb essentially all traffic
// (the snowball effect). That concentration is the algorithm's documented
// behavior, not an accident to be smoothed over.
type leastResponseTimeStrategy struct {
	alpha float64
	stats sync.Map // backend id -> *responseTimeStats
}

// NewLeastResponseTimeStrategy creates a least-response-time strategy with
// the given EWMA smoothing factor (0 picks the default of 0.3).
func NewLeastResponseTimeStrategy(alpha float64) Strategy {
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultEWMAAlpha
	}
	return &leastResponseTimeStrategy{alpha: alpha}
}

func (l *leastResponseTimeStrategy) Name() string {
	return LeastResponseTime
}

func (l *leastResponseTimeStrategy) Init(backends []*backend.Backend) {
	for _, b := range backends {
		if b.IsHealthy() {
			l.stats.Store(b.ID(), newResponseTimeStats())
		}
	}
}

func (l *leastResponseTimeStrategy) OnBackendAdded(b *backend.Backend) {
	if b.IsHealthy() {
		l.stats.Store(b.ID(), newResponseTimeStats())
	}
}

func (l *leastResponseTimeStrategy) OnBackendRemoved(b *backend.Backend) {
	l.stats.Delete(b.ID())
}

func (l *leastResponseTimeStrategy) Select(healthy []*backend.Backend, _ string) (*backend.Backend, error) {
	if len(healthy) == 0 {
		return nil, ErrNoHealthyBackend
	}

	chosen := healthy[0]
	best := l.effectiveResponseTime(chosen)

	for _, b := range healthy[1:] {
		score := l.effectiveResponseTime(b)
		if score < best || (score == best && b.ID() < chosen.ID()) {
			chosen = b
			best = score
		}
	}

	chosen.IncrementConnections()
	return chosen, nil
}

func (l *leastResponseTimeStrategy) Record(b *backend.Backend, latency time.Duration, success bool) {
	b.DecrementConnections()

	if success {
		b.RecordLatency(latency)
		l.updateStats(b.ID(), float64(latency.Milliseconds()))
		return
	}

	l.updateStats(b.ID(), failurePenaltyMs)
}

// effectiveResponseTime combines the backend's recent-window mean with the
// strategy's EWMA: the arithmetic mean when both exist, whichever is
// available otherwise, and the initial value when neither is.
func (l *leastResponseTimeStrategy) effectiveResponseTime(b *backend.Backend) float64 {
	windowAvg, hasWindow := b.AverageLatency()
	windowMs := float64(windowAvg.Nanoseconds()) / float64(time.Millisecond)

	var stats *responseTimeStats
	if value, ok := l.stats.Load(b.ID()); ok {
		stats = value.(*responseTimeStats)
	}

	switch {
	case hasWindow && stats != nil:
		return (windowMs + stats.average()) / 2
	case hasWindow:
		return windowMs
	case stats != nil:
		return stats.average()
	default:
		return initialResponseTimeMs
	}
}

func (l *leastResponseTimeStrategy) updateStats(id string, sampleMs float64) {
	value, _ := l.stats.LoadOrStore(id, newResponseTimeStats())
	value.(*responseTimeStats).update(sampleMs, l.alpha)
}
