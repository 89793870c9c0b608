// SecureDataOps Dashboard serves a live view of the trade-rate metrics and spike
// alerts produced by the SecureDataOps consumer.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/securedataops/dataops-dashboard/app"
	"github.com/securedataops/dataops-dashboard/dash/ops"
)

var (
	// SERVER_VERSION will be injected during the build process by the justfile
	// Use 'just build-version VERSION' to set a specific version
	SERVER_VERSION = "v0.0.0"

	// buildString will be injected during the build process with build time and git info
	buildString = "dev build"
)

func initLogger() (*slog.Logger, *ops.LogBuffer) {
	// Default to INFO level, can be overridden by LOG_LEVEL env var
	// Valid levels: debug, info, warn, error
	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	logBuffer := ops.NewLogBuffer(ops.DefaultLogCapacity)
	inner := slog.NewTextHandler(os.Stderr, opts)
	tee := ops.NewTeeHandler(inner, logBuffer)
	return slog.New(tee), logBuffer
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("SecureDataOps Dashboard %s\n", SERVER_VERSION)
		fmt.Printf("Build: %s\n", buildString)
		os.Exit(0)
	}

	// Logs go to stderr and the ops log stream; console mode owns stdout.
	logger, logBuffer := initLogger()

	application := app.NewApp(logger)
	application.SetLogBuffer(logBuffer)

	if err := application.LoadConfig(); err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	application.SetVersion(SERVER_VERSION)

	// Run the server (blocks until shutdown)
	logger.Info("Starting SecureDataOps Dashboard...", "version", SERVER_VERSION, "build", buildString, "mode", application.Config.AppMode)
	if err := application.RunServer(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
