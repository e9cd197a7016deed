package main

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRuntimeConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"GRAPH_NAME", "JOBRUNNER_POLL_INTERVAL", "JOBRUNNER_LEASE_DURATION",
		"JOBRUNNER_HEARTBEAT_INTERVAL", "JOBRUNNER_IMPORT_BATCH_SIZE",
		"JOBRUNNER_DELETE_BATCH_SIZE", "LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}

	cfg := LoadRuntimeConfig()

	assert.Equal(t, "default", cfg.GraphName)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 50, cfg.ImportBatchSize)
	assert.Equal(t, 50, cfg.DeleteBatchSize)
}

func TestLoadRuntimeConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GRAPH_NAME", "factory-floor")
	t.Setenv("JOBRUNNER_IMPORT_BATCH_SIZE", "200")

	cfg := LoadRuntimeConfig()

	assert.Equal(t, "factory-floor", cfg.GraphName)
	assert.Equal(t, 200, cfg.ImportBatchSize)
}

func TestImportRequest_JSONShape(t *testing.T) {
	var req importRequest
	require.NoError(t, json.Unmarshal([]byte(`{"sourceUrl":"https://example.invalid/twins.ndjson"}`), &req))

	assert.Equal(t, "https://example.invalid/twins.ndjson", req.SourceURL)
}
