package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/loadbalancer"
	"github.com/oOccasio/loadBalancing/internal/registry"
)

// predictor is implemented by strategies that can answer "where would this
// client go?" without reserving a backend (ipHash, consistentHashing).
type predictor interface {
	PredictServer(healthy []*backend.Backend, clientInfo string) *backend.Backend
}

// ServerView is the JSON shape of one backend in admin responses.
type ServerView struct {
	ID                string  `json:"id"`
	URL               string  `json:"url"`
	Weight            int     `json:"weight"`
	Healthy           bool    `json:"healthy"`
	ActiveConnections int64   `json:"active_connections"`
	TotalRequests     int64   `json:"total_requests"`
	AvgResponseMs     float64 `json:"avg_response_ms,omitempty"`
}

type registerRequest struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// Handler exposes the runtime backend registry over HTTP:
//
//	GET    /lb/servers        list backends with live metrics
//	POST   /lb/servers        register a backend
//	DELETE /lb/servers/{id}   remove a backend
//	GET    /lb/predict        predict the backend for a client key
type Handler struct {
	logger        *slog.Logger
	registry      *registry.Registry
	balancer      *loadbalancer.LoadBalancer
	latencyWindow int
}

func New(logger *slog.Logger, reg *registry.Registry, lb *loadbalancer.LoadBalancer, latencyWindow int) *Handler {
	return &Handler{
		logger:        logger,
		registry:      reg,
		balancer:      lb,
		latencyWindow: latencyWindow,
	}
}

// Register installs the admin routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/lb/servers", h.servers)
	mux.HandleFunc("/lb/servers/", h.serverByID)
	mux.HandleFunc("/lb/predict", h.predict)
}

func (h *Handler) servers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listServers(w)
	case http.MethodPost:
		h.registerServer(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listServers(w http.ResponseWriter) {
	backends := h.registry.Backends()

	views := make([]ServerView, 0, len(backends))
	for _, b := range backends {
		view := ServerView{
			ID:                b.ID(),
			URL:               b.URL().String(),
			Weight:            b.Weight(),
			Healthy:           b.IsHealthy(),
			ActiveConnections: b.ActiveConnections(),
			TotalRequests:     b.TotalRequests(),
		}
		if avg, ok := b.AverageLatency(); ok {
			view.AvgResponseMs = float64(avg.Nanoseconds()) / float64(time.Millisecond)
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.ID == "" || req.URL == "" {
		http.Error(w, "id and url are required", http.StatusBadRequest)
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		http.Error(w, "url must be absolute", http.StatusBadRequest)
		return
	}

	b := backend.NewWithWindow(req.ID, u, req.Weight, h.latencyWindow)
	if err := h.registry.Add(b); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	h.logger.Info("Backend registered via admin API",
		slog.String("id", b.ID()),
		slog.String("url", b.URL().String()))

	writeJSON(w, http.StatusCreated, ServerView{
		ID:      b.ID(),
		URL:     b.URL().String(),
		Weight:  b.Weight(),
		Healthy: b.IsHealthy(),
	})
}

func (h *Handler) serverByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/lb/servers/")
	if id == "" {
		http.Error(w, "missing server id", http.StatusBadRequest)
		return
	}

	if !h.registry.Remove(id) {
		http.Error(w, "no such server", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	client := r.URL.Query().Get("client")
	algorithm := r.URL.Query().Get("algorithm")

	strat, err := h.balancer.Strategy(algorithm)
	if err != nil {
		http.Error(w, "unknown algorithm", http.StatusBadRequest)
		return
	}

	p, ok := strat.(predictor)
	if !ok {
		http.Error(w, "algorithm does not support prediction", http.StatusBadRequest)
		return
	}

	healthy := h.registry.HealthySnapshot()
	chosen := p.PredictServer(healthy, client)
	if chosen == nil {
		http.Error(w, "no healthy server available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"client":    client,
		"algorithm": strat.Name(),
		"backend":   chosen.ID(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
