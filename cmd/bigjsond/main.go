// Command bigjsond runs the bigjson document server: HTTP CRUD, server-sent
// events, and a WebSocket subprotocol over a single shared, journaled JSON
// document.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"

	"github.com/sunli829/bigjson/internal/config"
	"github.com/sunli829/bigjson/internal/logging"
	"github.com/sunli829/bigjson/internal/metrics"
	"github.com/sunli829/bigjson/internal/service"
	"github.com/sunli829/bigjson/internal/transport"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides BIGJSON_LOG_LEVEL)")
	dataDir := flag.String("data-dir", "", "directory holding the journal; omit to run in-memory only")
	bind := flag.String("bind", "", "HTTP listen address (overrides BIGJSON_BIND)")
	flag.Parse()

	startupLog := logging.New("info", "console")
	startupLog.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting bigjsond")

	var cfgArgs []string
	if *dataDir != "" {
		cfgArgs = append(cfgArgs, "-data-dir", *dataDir)
	}
	if *bind != "" {
		cfgArgs = append(cfgArgs, "-bind", *bind)
	}
	cfg, err := config.Load(cfgArgs, &startupLog)
	if err != nil {
		startupLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogFields(log)

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)

	resourceCtx, stopResourceSampling := context.WithCancel(context.Background())
	defer stopResourceSampling()
	go met.SampleResources(resourceCtx, cfg.MetricsInterval)

	svc, err := service.Open(cfg.DataDir, met, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("error closing service")
		}
	}()

	srv := transport.New(cfg, svc, met, log)
	httpServer := &http.Server{
		Addr:         cfg.Bind,
		Handler:      srv.Handler(registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Bind).Bool("persistent", cfg.Persistent()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
