// Package main provides the digital-twin CDC event router process.
//
// It owns the replication decoder (C5), the telemetry listener (C6), the
// bounded event queue (C1), and the consumer/router (C7) that fans
// reconstructed events out to the sinks (C3/C4) declared in the wiring
// file. Job import/delete processing lives in a separate process, see
// cmd/jobrunner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/dlq"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/replication"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/router"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/storage"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/telemetry"
)

const (
	version = "1.0.0-dev"
	name    = "eventrouter"
)

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	runtimeCfg := LoadRuntimeConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: runtimeCfg.LogLevel,
	}))

	logger.Info("starting digital-twin event router",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("graph", runtimeCfg.GraphName))

	if err := run(runtimeCfg, logger); err != nil {
		logger.Error("event router stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("event router stopped")
}

func run(cfg *RuntimeConfig, logger *slog.Logger) error {
	wiring, err := LoadWiringConfig(cfg.WiringConfigPath)
	if err != nil {
		return err
	}

	dbConn, err := storage.NewConnection(storage.LoadConfig())
	if err != nil {
		return fmt.Errorf("eventrouter: connect to database: %w", err)
	}
	defer dbConn.Close()

	dlqStore := dlq.NewStore(dbConn, logger)

	sinkRegistry, sinkTypeMappings, err := buildSinks(wiring.Sinks, dlqStore, logger)
	if err != nil {
		return err
	}

	queue := events.NewQueue(cfg.QueueCapacity)

	routerCfg := router.Config{
		Source:           cfg.SourceURI,
		ServiceID:        cfg.ServiceID,
		Routes:           buildRoutes(wiring.Routes),
		MaxBatchSize:     cfg.MaxBatchSize,
		SinkTypeMappings: sinkTypeMappings,
	}

	consumer := router.New(routerCfg, queue, sinkRegistry, logger)

	decoder := replication.New(replication.Config{
		ConnString:  cfg.ReplicationConnString,
		SlotName:    cfg.SlotName,
		Publication: cfg.Publication,
		GraphName:   cfg.GraphName,
	}, queue, logger)

	listener := telemetry.New(cfg.TelemetryConnString, cfg.TelemetryChannel, queue, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	runErrs := make(chan error, 3)

	runLoop := func(loopName string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("loop stopped with error", slog.String("loop", loopName), slog.String("error", err.Error()))
				runErrs <- fmt.Errorf("%s: %w", loopName, err)

				return
			}

			runErrs <- nil
		}()
	}

	runLoop("replication-decoder", decoder.Run)
	runLoop("telemetry-listener", listener.Run)
	runLoop("router", consumer.Run)

	select {
	case sig := <-stop:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-runErrs:
		if err != nil {
			cancel()
			waitForShutdown(logger, &wg, cfg.ShutdownTimeout)
			queue.Close()

			return err
		}
	}

	cancel()
	waitForShutdown(logger, &wg, cfg.ShutdownTimeout)
	queue.Close()

	return nil
}

// waitForShutdown waits for every loop goroutine to return, logging (but not
// blocking forever) if they take longer than timeout to drain.
func waitForShutdown(logger *slog.Logger, wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("shutdown timed out waiting for loops to drain", slog.Duration("timeout", timeout))
	}
}
