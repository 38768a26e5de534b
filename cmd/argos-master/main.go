// Package main is the ARGOS master entry point: fleet API, embedded event
// bus, frame fan-out, dataset recorder, and the GUI viewer hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/logging"
	"github.com/argos-vision/argos/internal/master"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	ring := logging.Install(os.Stdout, logLevel)

	host := flag.String("host", config.ResolveHost("0.0.0.0"), "listen address")
	port := flag.Int("port", config.ResolvePort(config.DefaultMasterPort), "listen port")
	base := flag.String("base", config.ResolveBaseDir(), "data directory")
	flag.Parse()

	layout := config.Layout{Base: *base}
	if err := layout.Ensure(); err != nil {
		slog.Error("Failed to prepare data directory", "base", layout.Base, "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadMasterFile(layout.MasterFilePath())
	if err != nil {
		slog.Error("Failed to load master settings", "path", layout.MasterFilePath(), "error", err)
		os.Exit(1)
	}

	slog.Info("Starting ARGOS master",
		"version", version,
		"base", layout.Base,
		"address", fmt.Sprintf("%s:%d", *host, *port),
		"schedule", cfg.Schedule.Enabled,
	)

	svc, err := master.New(layout, cfg, ring)
	if err != nil {
		slog.Error("Failed to assemble master", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		slog.Error("Failed to start master", "error", err)
		svc.Stop()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := svc.ListenAndServe(*host, *port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("Server error", "error", err)
		svc.Stop()
		os.Exit(1)
	case sig := <-sigChan:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	svc.Stop()
	slog.Info("Master stopped")
}
