// Package main provides the job-runner process: it polls the job service
// (C8) for running import/delete jobs whose lease is absent or expired and
// drives them to completion with the import (C9) and delete (C9) engines.
// Jobs still in notStarted status are not picked up by this poll.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/storage"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/twinstore"
)

const (
	version = "1.0.0-dev"
	name    = "jobrunner"
)

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := LoadRuntimeConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting job runner", slog.String("service", name), slog.String("version", version),
		slog.String("graph", cfg.GraphName))

	if err := run(cfg, logger); err != nil {
		logger.Error("job runner stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("job runner stopped")
}

func run(cfg *RuntimeConfig, logger *slog.Logger) error {
	dbConn, err := storage.NewConnection(storage.LoadConfig())
	if err != nil {
		return fmt.Errorf("jobrunner: connect to database: %w", err)
	}
	defer dbConn.Close()

	jobStore := jobs.NewStore(dbConn, cfg.GraphName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("jobrunner: ensure jobs schema: %w", err)
	}

	instanceID, err := jobs.NewInstanceID()
	if err != nil {
		return fmt.Errorf("jobrunner: generate instance id: %w", err)
	}

	logger.Info("job runner instance ready", slog.String("instance_id", instanceID))

	twinStore, err := newTwinStore(cfg)
	if err != nil {
		logger.Warn("no TwinStore configured, jobs will be left for another instance until one is wired in",
			slog.String("error", err.Error()))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	r := &runner{cfg: cfg, jobStore: jobStore, twinStore: twinStore, instanceID: instanceID, logger: logger}

	r.pollOnce(ctx)

	for {
		select {
		case sig := <-stop:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()

			return nil
		case <-ticker.C:
			r.pollOnce(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// runner holds the collaborators needed to discover and drive jobs.
type runner struct {
	cfg        *RuntimeConfig
	jobStore   *jobs.Store
	twinStore  twinstore.Store
	instanceID string
	logger     *slog.Logger
}
