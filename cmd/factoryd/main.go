// Command factoryd wires the pipeline core (internal/pipeline,
// internal/station, internal/buffer), the metrics aggregator, the async
// logger, the worker registry, and the websocket observer bridge into a
// single runnable process — the "coordinating thread" of spec.md §5 that
// owns the controller and every background worker.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/elcorderodedios/assemblyline/internal/asynclog"
	"github.com/elcorderodedios/assemblyline/internal/config"
	"github.com/elcorderodedios/assemblyline/internal/eventbus"
	"github.com/elcorderodedios/assemblyline/internal/metrics"
	"github.com/elcorderodedios/assemblyline/internal/observer"
	"github.com/elcorderodedios/assemblyline/internal/pipeline"
	"github.com/elcorderodedios/assemblyline/internal/registry"
	"github.com/elcorderodedios/assemblyline/internal/station"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	cfg, err := config.Load(v)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New()
	rng := station.NewRNG(cfg.RngSeed)

	zapCore, err := zap.NewProduction()
	if err != nil {
		logger.Error("failed to build zap core for async logger", "error", err)
		os.Exit(1)
	}
	defer zapCore.Sync()

	alog := asynclog.New(cfg.LogLevel(), zapCore, bus)
	go alog.Run()
	defer alog.Stop()

	reg := prometheus.NewRegistry()
	promBridge := metrics.NewPrometheusBridge(reg)

	aggregator := metrics.New(cfg.MetricsConfig(), bus, logger, promBridge)

	controller := pipeline.New(cfg.PipelineConfig(), aggregator, cfg.AggregatorInterval(), bus, logger, rng, alog)

	wr := registry.New(cfg.HealthCheckInterval(), 30*time.Second, bus, logger)
	for name, w := range controller.Stations() {
		wr.Register(name, 0, w)
	}

	hub := observer.NewHub(logger)
	go hub.Run()
	defer hub.Stop()
	subs := observer.Bridge(bus, hub)
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wr.Start(ctx)
	defer wr.Stop()

	controller.Start()
	logger.Info("=== manufacturing pipeline started ===")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", hub.ServeWs)
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"running":       controller.IsRunning(),
			"paused":        controller.IsPaused(),
			"finishedCount": controller.FinishedCount(),
			"rejectedTotal": controller.RejectedTotal(),
			"wip":           controller.ProductsInBuffers(),
		})
	})
	mux.HandleFunc("/api/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Query().Get("action") {
		case "pause":
			controller.Pause()
		case "resume":
			controller.Resume()
		case "stop":
			controller.Stop()
		case "start":
			controller.Start()
		case "reset":
			controller.Reset()
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		logger.Info("HTTP/metrics/observer server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	waitForShutdown(logger, srv, controller)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops the HTTP server
// and the pipeline controller. Controller.Stop already bounds each
// station's exit to 5s (spec.md §5's cancellation model); the registry,
// logger sink, and observer hub are torn down by the deferred calls in
// main after this returns.
func waitForShutdown(logger *slog.Logger, srv *http.Server, controller *pipeline.Controller) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping pipeline")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	controller.Stop()
	logger.Info("pipeline stopped, exiting")
}
