package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/oOccasio/loadBalancing/config"
	"github.com/oOccasio/loadBalancing/internal/admin"
	"github.com/oOccasio/loadBalancing/internal/backend"
	"github.com/oOccasio/loadBalancing/internal/handler"
	"github.com/oOccasio/loadBalancing/internal/healthcheck"
	"github.com/oOccasio/loadBalancing/internal/httpserver"
	"github.com/oOccasio/loadBalancing/internal/loadbalancer"
	"github.com/oOccasio/loadBalancing/internal/metrics"
	"github.com/oOccasio/loadBalancing/internal/registry"
	"github.com/oOccasio/loadBalancing/internal/strategy"
	"github.com/oOccasio/loadBalancing/pkg/logger"
)

const metricsBufferSize = 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(log)

	strategies, err := strategy.NewAll(strategy.Options{
		VirtualNodes: cfg.Strategy.VirtualNodes,
		EWMAAlpha:    cfg.Strategy.EWMAAlpha,
		Logger:       log,
	})
	if err != nil {
		log.Error("Failed to create strategies", slog.Any("err", err))
		os.Exit(1)
	}

	for _, strat := range strategies {
		reg.Subscribe(strat)
	}

	if err := registerBackends(cfg, reg); err != nil {
		log.Error("Failed to register backends", slog.Any("err", err))
		os.Exit(1)
	}

	for _, strat := range strategies {
		strat.Init(reg.Backends())
	}

	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(ctx)

	requestTimeout, err := cfg.RequestTimeout()
	if err != nil {
		log.Error("Invalid request timeout", slog.Any("err", err))
		os.Exit(1)
	}

	lb := loadbalancer.New(log, reg, strategies, cfg.Strategy.Default, requestTimeout, cfg.Request.MaxBodyBytes)

	loadBalancerHandler := handler.NewLoadBalancerHandler(log, lb, collector)
	adminHandler := admin.New(log, reg, lb, cfg.Strategy.LatencyWindow)

	mux := setupRouter(loadBalancerHandler, adminHandler, collector, cfg.Strategy.Default)

	srv, err := httpserver.New(cfg.Server.Address, mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	probeInterval, err := cfg.HealthCheckInterval()
	if err != nil {
		log.Error("Invalid health check interval", slog.Any("err", err))
		os.Exit(1)
	}
	probeTimeout, err := cfg.HealthCheckTimeout()
	if err != nil {
		log.Error("Invalid health check timeout", slog.Any("err", err))
		os.Exit(1)
	}

	supervisor := healthcheck.New(reg, probeInterval, probeTimeout, log, collector)
	go supervisor.Run(ctx)

	log.Info("Load balancer starting",
		slog.String("address", cfg.Server.Address),
		slog.String("algorithm", cfg.Strategy.Default),
		slog.Int("backends", len(cfg.Backends)))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting load balancer", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// registerBackends parses the configured backends and adds them to the
// registry, firing the subscribed strategies' lifecycle hooks.
func registerBackends(cfg *config.Config, reg *registry.Registry) error {
	for _, bc := range cfg.Backends {
		u, err := url.Parse(bc.URL)
		if err != nil {
			return err
		}

		b := backend.NewWithWindow(bc.ID, u, bc.Weight, cfg.Strategy.LatencyWindow)
		if err := reg.Add(b); err != nil {
			return err
		}
	}

	return nil
}
