package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/giygas/httpmetrics/config"
	"github.com/giygas/httpmetrics/logging"
	"github.com/giygas/httpmetrics/metrics"
	"github.com/giygas/httpmetrics/prober"
	"github.com/giygas/httpmetrics/server"
)

func main() {
	// A missing .env file is fine, the environment itself may be populated
	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cache := metrics.NewStoreCache()

	serverStore, err := cache.Server(cfg.ServerMetricsPrefix, cfg.MetricsNamespace, registry)
	if err != nil {
		logging.Error("Failed to build server metrics", "error", err)
		os.Exit(1)
	}

	clientStore, err := cache.Client(cfg.MetricsNamespace, registry)
	if err != nil {
		logging.Error("Failed to build client metrics", "error", err)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, serverStore, registry)

	pr := prober.NewProber(cfg, clientStore)
	if err := pr.Start(); err != nil {
		logging.Error("Failed to start prober", "error", err)
		os.Exit(1)
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Block until a signal is received
	<-quit

	pr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Shutdown error", "error", err)
		os.Exit(1)
	}
}
