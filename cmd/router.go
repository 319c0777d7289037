package main

import (
	"net/http"

	"github.com/oOccasio/loadBalancing/internal/admin"
	"github.com/oOccasio/loadBalancing/internal/handler"
	"github.com/oOccasio/loadBalancing/internal/metrics"
)

func setupRouter(loadBalancerHandler *handler.LoadBalancerHandler, adminHandler *admin.Handler, metricsCollector *metrics.Collector, algorithm string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", loadBalancerHandler.ServeHTTP)
	mux.HandleFunc("/metrics", metricsCollector.Handler(algorithm))
	adminHandler.Register(mux)

	return mux
}
