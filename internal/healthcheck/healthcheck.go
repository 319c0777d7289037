package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/metrics"
	"github.com/oOccasio/loadBalancing/internal/registry"
)

const (
	// DefaultInterval is the probe period.
	DefaultInterval = 5 * time.Second

	// DefaultTimeout bounds a single health probe.
	DefaultTimeout = 3 * time.Second
)

// Supervisor periodically probes every registered backend's /health endpoint
// and flips its health flag. Strategies observe the flipped flag through the
// next healthy snapshot and rebuild their derived state lazily; the
// supervisor itself never touches strategy internals.
type Supervisor struct {
	registry  *registry.Registry
	client    *http.Client
	interval  time.Duration
	logger    *slog.Logger
	collector *metrics.Collector
}

// New creates a Supervisor; collector may be nil.
func New(reg *registry.Registry, interval, timeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Supervisor{
		registry:  reg,
		client:    &http.Client{Timeout: timeout},
		interval:  interval,
		logger:    logger,
		collector: collector,
	}
}

// Run probes all backends once immediately and then on every tick until the
// context is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Health supervisor stopped")
			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

func (s *Supervisor) probeAll(ctx context.Context) {
	for _, b := range s.registry.Backends() {
		s.probe(ctx, b)
	}
}

// probe GETs {backend.url}/health. Any 2xx marks the backend healthy and
// records the probe latency into its window; anything else marks it down.
func (s *Supervisor) probe(ctx context.Context, b *backend.Backend) {
	healthURL := b.URL().ResolveReference(&url.URL{Path: "/health"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return
	}

	start := time.Now()
	res, err := s.client.Do(req)
	if err != nil {
		s.setHealth(b, false)
		return
	}
	defer res.Body.Close()

	healthy := res.StatusCode >= 200 && res.StatusCode <= 299
	if healthy {
		b.RecordLatency(time.Since(start))
	}

	s.setHealth(b, healthy)
}

func (s *Supervisor) setHealth(b *backend.Backend, healthy bool) {
	changed := b.SetHealthy(healthy)
	if !changed {
		return
	}

	if healthy {
		s.logger.Info("Backend is back up", slog.String("backend", b.ID()))
	} else {
		s.logger.Warn("Backend is down", slog.String("backend", b.ID()))
	}

	if s.collector != nil {
		s.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Timestamp: time.Now(),
			Backend:   b.ID(),
			Healthy:   healthy,
		})
	}
}
