package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWiringConfig(t *testing.T) {
	yamlDoc := `
sinks:
  - name: kafka-main
    kind: Kafka
    kafka:
      brokers: ["broker-1:9092"]
      topic: digitaltwins-events
    requestsPerSecond: 100
    typeMappings:
      TwinCreate: custom.type.create
  - name: webhook-audit
    kind: Webhook
    webhook:
      url: https://example.invalid/events
      authType: Bearer
      bearerToken: secret-token
routes:
  - sinkName: kafka-main
    eventFormat: EventNotification
  - sinkName: webhook-audit
    eventFormat: Telemetry
`
	path := filepath.Join(t.TempDir(), "wiring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := LoadWiringConfig(path)

	require.NoError(t, err)
	require.Len(t, cfg.Sinks, 2)
	require.Len(t, cfg.Routes, 2)

	kafkaSink := cfg.Sinks[0]
	assert.Equal(t, "kafka-main", kafkaSink.Name)
	assert.Equal(t, SinkKafka, kafkaSink.Kind)
	require.NotNil(t, kafkaSink.Kafka)
	assert.Equal(t, []string{"broker-1:9092"}, kafkaSink.Kafka.Brokers)
	assert.Equal(t, 100, kafkaSink.RequestsPerSecond)
	assert.Equal(t, "custom.type.create", kafkaSink.TypeMappings[cloudevents.TypeTwinCreate])

	webhookSink := cfg.Sinks[1]
	require.NotNil(t, webhookSink.Webhook)
	assert.Equal(t, "https://example.invalid/events", webhookSink.Webhook.URL)
	assert.Equal(t, "secret-token", webhookSink.Webhook.BearerToken)

	assert.Equal(t, "kafka-main", cfg.Routes[0].SinkName)
	assert.Equal(t, cloudevents.EventNotification, cfg.Routes[0].EventFormat)
}

func TestLoadWiringConfig_MissingFile(t *testing.T) {
	_, err := LoadWiringConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	assert.Error(t, err)
}

func TestLoadWiringConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wiring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sinks: [this is not valid"), 0o600))

	_, err := LoadWiringConfig(path)

	assert.Error(t, err)
}

func TestLoadRuntimeConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"REPLICATION_DATABASE_URL", "TELEMETRY_DATABASE_URL", "REPLICATION_SLOT_NAME",
		"REPLICATION_PUBLICATION", "TELEMETRY_CHANNEL", "GRAPH_NAME", "EVENT_SOURCE_URI",
		"SERVICE_ID", "WIRING_CONFIG_PATH", "QUEUE_CAPACITY", "ROUTER_MAX_BATCH_SIZE",
		"SHUTDOWN_TIMEOUT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := LoadRuntimeConfig()

	assert.Equal(t, "digitaltwins_eventrouter", cfg.SlotName)
	assert.Equal(t, "default", cfg.GraphName)
	assert.Equal(t, "./wiring.yaml", cfg.WiringConfigPath)
	assert.Equal(t, 10000, cfg.QueueCapacity)
	assert.Equal(t, 50, cfg.MaxBatchSize)
}
