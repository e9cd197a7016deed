package main

import (
	"log/slog"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/config"
)

// RuntimeConfig holds the process-level settings read from the environment.
type RuntimeConfig struct {
	GraphName         string
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	ImportBatchSize   int
	DeleteBatchSize   int
	LogLevel          slog.Level
}

// LoadRuntimeConfig loads RuntimeConfig from the environment with
// production-ready defaults.
func LoadRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		GraphName:         config.GetEnvStr("GRAPH_NAME", "default"),
		PollInterval:      config.GetEnvDuration("JOBRUNNER_POLL_INTERVAL", 15*time.Second),
		LeaseDuration:     config.GetEnvDuration("JOBRUNNER_LEASE_DURATION", 5*time.Minute),
		HeartbeatInterval: config.GetEnvDuration("JOBRUNNER_HEARTBEAT_INTERVAL", 30*time.Second),
		ImportBatchSize:   config.GetEnvInt("JOBRUNNER_IMPORT_BATCH_SIZE", 50),
		DeleteBatchSize:   config.GetEnvInt("JOBRUNNER_DELETE_BATCH_SIZE", 50),
		LogLevel:          config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// importRequest is the requestData shape for an import job: the location of
// the ND-JSON stream to read, opened by the host's own fetch/open logic.
type importRequest struct {
	SourceURL string `json:"sourceUrl"`
}
