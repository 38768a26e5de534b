// Package main is the ARGOS node entry point: the per-host camera service
// exposing the camera API and the event socket the master attaches to.
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

	"github.com/argos-vision/argos/internal/camera"
	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/logging"
	"github.com/argos-vision/argos/internal/node"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	ring := logging.Install(os.Stdout, logLevel)

	host := flag.String("host", config.ResolveHost("0.0.0.0"), "listen address")
	port := flag.Int("port", config.ResolvePort(config.DefaultNodePort), "listen port")
	base := flag.String("base", config.ResolveBaseDir(), "data directory")
	flag.Parse()

	layout := config.Layout{Base: *base}
	if err := layout.Ensure(); err != nil {
		slog.Error("Failed to prepare data directory", "base", layout.Base, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting ARGOS node",
		"version", version,
		"base", layout.Base,
		"address", fmt.Sprintf("%s:%d", *host, *port),
	)

	// Without attached hardware every configured camera is backed by a
	// synthetic device, so the full pipeline stays exercisable.
	serials, err := config.ListCameraSerials(layout.CamerasDir())
	if err != nil {
		slog.Error("Failed to scan camera configs", "error", err)
		os.Exit(1)
	}
	backend := camera.NewSynthBackend(serials...)

	hub := node.NewHub()
	go hub.Run()

	manager := node.NewManager(backend, layout, hub)
	if err := manager.Bootstrap(); err != nil {
		slog.Error("Failed to bootstrap cameras", "error", err)
		os.Exit(1)
	}

	watcher, err := node.StartWatcher(manager, layout)
	if err != nil {
		slog.Error("Failed to watch camera configs", "error", err)
		manager.Shutdown()
		os.Exit(1)
	}

	server := node.NewServer(manager, hub, ring)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(*host, *port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("Server error", "error", err)
		watcher.Stop()
		manager.Shutdown()
		os.Exit(1)
	case sig := <-sigChan:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	watcher.Stop()
	manager.Shutdown()
	slog.Info("Node stopped")
}
