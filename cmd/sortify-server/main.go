// Package main provides the shared chat gateway server for sortify clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/sortify/internal/backend"
	"github.com/raphaelgruber/sortify/internal/config"
	"github.com/raphaelgruber/sortify/internal/events"
	"github.com/raphaelgruber/sortify/internal/metrics"
	"github.com/raphaelgruber/sortify/internal/server"
)

const version = "0.1.0"

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all chats on startup (testing only)")
	port := flag.Int("port", 0, "listen port (default $SORTIFY_SERVER_PORT or 8484)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if cfg.Backend == config.BackendRemote {
		fmt.Fprintln(os.Stderr, "Error: sortify-server cannot use the remote backend")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, os.Stderr)
	defer cleanup()

	logger.Info("sortify-server starting",
		"version", version,
		"backend", cfg.Backend,
		"port", cfg.ServerPort,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := backend.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open chat store", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing chat store")
		_ = store.Close(context.Background())
	}()

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("SORTIFY_WIPE_DB") == "true" {
		if err := store.Wipe(ctx); err != nil {
			logger.Error("failed to wipe chats", "error", err)
			os.Exit(1)
		}
		logger.Warn("all chats wiped")
	}

	bus := events.NewBus(logger)
	defer bus.Close()

	stats := metrics.NewCollector()
	srv := server.New(metrics.InstrumentGateway(store.Gateway, stats), bus, stats, logger)

	logger.Info("gateway ready", "store", store.Location, "url", fmt.Sprintf("http://localhost:%d/query", cfg.ServerPort))

	// Run blocks until a signal arrives
	if err := srv.Run(ctx, fmt.Sprintf(":%d", cfg.ServerPort)); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
