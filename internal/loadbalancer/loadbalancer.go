package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/registry"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

const (
	// DefaultRequestTimeout bounds a single forwarded request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultMaxBodyBytes caps the backend response body read into memory.
	DefaultMaxBodyBytes = 1 << 20
)

// ErrUnknownAlgorithm is returned when a request names an algorithm that is
// not one of the configured strategies.
var ErrUnknownAlgorithm = errors.New("loadbalancer: unknown algorithm")

// BackendError reports a failed backend call: either a transport error
// (StatusCode 0) or a non-2xx response.
type BackendError struct {
	BackendID  string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %v", e.BackendID, e.Err)
	}
	return fmt.Sprintf("backend %s returned status %d", e.BackendID, e.StatusCode)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Request carries the parts of an inbound request the dispatcher needs.
type Request struct {
	Path       string
	Query      url.Values
	ClientInfo string // normalized client identity for hashing strategies
	RemoteAddr string // appended to X-Forwarded-For on the outbound call
	Forwarded  string // inbound X-Forwarded-For chain, may be empty
}

// Result is a successful backend response.
type Result struct {
	Backend     *backend.Backend
	Algorithm   string
	Status      int
	Body        []byte
	ContentType string
	Latency     time.Duration
}

// LoadBalancer sequences select, forward, and record for every request.
// Whatever happens after a successful select (backend error, timeout,
// oversized body), Record runs exactly once on the chosen backend; that is
// the invariant that keeps connection counts accurate.
type LoadBalancer struct {
	logger           *slog.Logger
	registry         *registry.Registry
	strategies       map[string]strategy.Strategy
	defaultAlgorithm string
	client           *http.Client
	maxBodyBytes     int64
}

// New creates a LoadBalancer over the given registry and strategy set.
func New(
	logger *slog.Logger,
	reg *registry.Registry,
	strategies map[string]strategy.Strategy,
	defaultAlgorithm string,
	requestTimeout time.Duration,
	maxBodyBytes int64,
) *LoadBalancer {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return &LoadBalancer{
		logger:           logger,
		registry:         reg,
		strategies:       strategies,
		defaultAlgorithm: defaultAlgorithm,
		client:           &http.Client{Timeout: requestTimeout},
		maxBodyBytes:     maxBodyBytes,
	}
}

// Strategy resolves an algorithm name, defaulting when the name is empty.
func (lb *LoadBalancer) Strategy(algorithm string) (strategy.Strategy, error) {
	if algorithm == "" {
		algorithm = lb.defaultAlgorithm
	}

	strat, ok := lb.strategies[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}

	return strat, nil
}

// Registry returns the backend registry the balancer dispatches over.
func (lb *LoadBalancer) Registry() *registry.Registry {
	return lb.registry
}

// DefaultAlgorithm returns the algorithm used when a request names none.
func (lb *LoadBalancer) DefaultAlgorithm() string {
	return lb.defaultAlgorithm
}

// Dispatch selects a backend with the named algorithm, forwards the request,
// and records the outcome on the strategy.
func (lb *LoadBalancer) Dispatch(ctx context.Context, algorithm string, req Request) (*Result, error) {
	strat, err := lb.Strategy(algorithm)
	if err != nil {
		return nil, err
	}

	healthy := lb.registry.HealthySnapshot()
	if len(healthy) == 0 {
		return nil, strategy.ErrNoHealthyBackend
	}

	chosen, err := strat.Select(healthy, req.ClientInfo)
	if err != nil {
		return nil, err
	}

	// From here on the chosen backend carries one outstanding connection;
	// Record releases it on every path.
	start := time.Now()
	result, forwardErr := lb.forward(ctx, chosen, req)
	elapsed := time.Since(start)

	strat.Record(chosen, elapsed, forwardErr == nil)

	if forwardErr != nil {
		lb.logger.Error("Backend request failed",
			slog.String("backend", chosen.ID()),
			slog.String("algorithm", strat.Name()),
			slog.Any("err", forwardErr))
		return nil, forwardErr
	}

	result.Backend = chosen
	result.Algorithm = strat.Name()
	result.Latency = elapsed
	return result, nil
}

// forward issues the backend GET and reads a bounded response body.
// Success is a 2xx status read fully within the client timeout.
func (lb *LoadBalancer) forward(ctx context.Context, b *backend.Backend, req Request) (*Result, error) {
	target := buildTargetURL(b, req.Path, req.Query)

	outbound, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &BackendError{BackendID: b.ID(), Err: err}
	}
	outbound.Header.Set("X-Forwarded-For", appendForwarded(req.Forwarded, req.RemoteAddr))

	res, err := lb.client.Do(outbound)
	if err != nil {
		return nil, &BackendError{BackendID: b.ID(), Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, lb.maxBodyBytes))
	if err != nil {
		return nil, &BackendError{BackendID: b.ID(), Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &BackendError{BackendID: b.ID(), StatusCode: res.StatusCode}
	}

	return &Result{
		Status:      res.StatusCode,
		Body:        body,
		ContentType: res.Header.Get("Content-Type"),
	}, nil
}

// buildTargetURL joins the backend base URL with the request path and query,
// dropping the internal algorithm parameter.
func buildTargetURL(b *backend.Backend, path string, query url.Values) string {
	target := b.URL().String() + path

	if len(query) > 0 {
		filtered := url.Values{}
		for key, values := range query {
			if key == "algorithm" {
				continue
			}
			filtered[key] = values
		}
		if encoded := filtered.Encode(); encoded != "" {
			target += "?" + encoded
		}
	}

	return target
}

// appendForwarded extends an X-Forwarded-For chain with the remote address.
func appendForwarded(chain, remoteAddr string) string {
	if chain == "" {
		return remoteAddr
	}
	return strings.TrimSpace(chain) + ", " + remoteAddr
}
