package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oOccasio/loadBalancing/internal/loadbalancer"
	"github.com/oOccasio/loadBalancing/internal/metrics"
	"github.com/oOccasio/loadBalancing/internal/strategy"
)

// LoadBalancerHandler is the inbound HTTP surface: it extracts the client
// identity, resolves the requested algorithm, dispatches through the
// balancer, and maps the error taxonomy onto status codes.
type LoadBalancerHandler struct {
	logger    *slog.Logger
	balancer  *loadbalancer.LoadBalancer
	collector *metrics.Collector

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
}

// NewLoadBalancerHandler creates the handler; collector may be nil.
func NewLoadBalancerHandler(logger *slog.Logger, lb *loadbalancer.LoadBalancer, collector *metrics.Collector) *LoadBalancerHandler {
	return &LoadBalancerHandler{
		logger:    logger,
		balancer:  lb,
		collector: collector,
	}
}

func (h *LoadBalancerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.totalRequests.Add(1)

	clientInfo := extractClientInfo(r)
	algorithm := r.URL.Query().Get("algorithm")

	h.logger.Info("Received request",
		slog.String("from", clientInfo),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("algorithm", algorithm))

	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	result, err := h.balancer.Dispatch(r.Context(), algorithm, loadbalancer.Request{
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		ClientInfo: clientInfo,
		RemoteAddr: remoteIP,
		Forwarded:  r.Header.Get("X-Forwarded-For"),
	})
	if err != nil {
		h.failedRequests.Add(1)
		h.writeError(w, err)
		return
	}

	h.successfulRequests.Add(1)
	h.emitResult(result)

	w.Header().Set("X-Backend-Server", result.Backend.URL().String())
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Body)
}

// Stats returns the aggregate request counters (total, successful, failed).
func (h *LoadBalancerHandler) Stats() (total, successful, failed int64) {
	return h.totalRequests.Load(), h.successfulRequests.Load(), h.failedRequests.Load()
}

// writeError maps the dispatch error taxonomy onto response status codes:
// unknown algorithm 400, no healthy backend 503, backend failure 502,
// anything else 500.
func (h *LoadBalancerHandler) writeError(w http.ResponseWriter, err error) {
	var backendErr *loadbalancer.BackendError

	switch {
	case errors.Is(err, loadbalancer.ErrUnknownAlgorithm):
		http.Error(w,
			fmt.Sprintf("unknown algorithm; valid values: %s", strings.Join(strategy.Names(), ", ")),
			http.StatusBadRequest)

	case errors.Is(err, strategy.ErrNoHealthyBackend):
		h.logger.Warn("No healthy backends available")
		http.Error(w, "No healthy server available", http.StatusServiceUnavailable)

	case errors.As(err, &backendErr):
		h.emitFailure(backendErr.BackendID)
		http.Error(w, "Backend server error", http.StatusBadGateway)

	default:
		h.logger.Error("Request handling failed", slog.Any("err", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *LoadBalancerHandler) emitResult(result *loadbalancer.Result) {
	if h.collector == nil {
		return
	}

	now := time.Now()
	backendID := result.Backend.ID()

	h.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: now,
		Backend:   backendID,
	})
	h.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventBackendSelected,
		Timestamp: now,
		Backend:   backendID,
		Algorithm: result.Algorithm,
	})
	h.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  now,
		Backend:    backendID,
		Duration:   result.Latency,
		StatusCode: result.Status,
	})
}

func (h *LoadBalancerHandler) emitFailure(backendID string) {
	if h.collector == nil {
		return
	}

	h.collector.Emit(metrics.MetricEvent{
		Type:      metrics.EventRequestFailed,
		Timestamp: time.Now(),
		Backend:   backendID,
	})
}

// extractClientInfo picks the client identity: the leftmost X-Forwarded-For
// entry, then X-Real-IP, then the remote address.
func extractClientInfo(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
