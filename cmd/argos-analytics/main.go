// Package main is the ARGOS analytics entry point: the event bridge that
// mirrors the master's analytics namespace into local sub-services.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/argos-vision/argos/internal/analytics"
	"github.com/argos-vision/argos/internal/config"
	"github.com/argos-vision/argos/internal/logging"
)

const version = "0.1.0"

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logging.Install(os.Stdout, logLevel)

	masterAddr := flag.String("master", config.ResolveMasterAddress(), "master API address (host:port)")
	flag.Parse()

	slog.Info("Starting ARGOS analytics", "version", version, "master", *masterAddr)

	monitor := analytics.NewActivityMonitor(slog.Default())
	monitor.Start()

	bridge := analytics.NewBridge(analytics.Config{MasterAddress: *masterAddr}, slog.Default())
	bridge.Register(monitor)
	bridge.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Shutting down", "signal", sig.String())

	bridge.Stop()
	monitor.Stop()
	slog.Info("Analytics stopped")
}
