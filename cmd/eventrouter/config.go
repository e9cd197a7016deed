package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/config"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/oauthcreds"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/analytics"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/kafka"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/mqtt"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/webhook"
)

// SinkKind selects which concrete sink implementation a SinkConfig builds.
type SinkKind string

const (
	SinkKafka     SinkKind = "Kafka"
	SinkMQTT      SinkKind = "Mqtt"
	SinkWebhook   SinkKind = "Webhook"
	SinkAnalytics SinkKind = "Analytics"
)

// OAuthConfig is the YAML shape of a client-credentials grant, shared
// across every sink kind that supports OAuth.
type OAuthConfig struct {
	TenantID     string   `yaml:"tenantId"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	TokenURL     string   `yaml:"tokenUrl"`
	Scopes       []string `yaml:"scopes"`
}

// KafkaConfig is the YAML shape of Kafka sink options.
type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	SecurityProtocol string   `yaml:"securityProtocol"`
	SaslMechanism    string   `yaml:"saslMechanism"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`

	OAuth *OAuthConfig `yaml:"oauth"`
}

// MQTTConfig is the YAML shape of MQTT sink options.
type MQTTConfig struct {
	BrokerHost      string `yaml:"brokerHost"`
	BrokerPort      int    `yaml:"brokerPort"`
	ClientID        string `yaml:"clientId"`
	Topic           string `yaml:"topic"`
	ProtocolVersion string `yaml:"protocolVersion"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`

	OAuth *OAuthConfig `yaml:"oauth"`
}

// WebhookConfig is the YAML shape of webhook sink options.
type WebhookConfig struct {
	URL         string `yaml:"url"`
	AuthType    string `yaml:"authType"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	BearerToken string `yaml:"bearerToken"`

	OAuth *OAuthConfig `yaml:"oauth"`
}

// AnalyticsTypeMapping is the YAML shape of one per-event-type Kusto
// table/ingestion-mapping pair.
type AnalyticsTypeMapping struct {
	Table               string `yaml:"table"`
	IngestionMappingRef string `yaml:"ingestionMappingRef"`
}

// AnalyticsConfig is the YAML shape of the analytics-ingestor sink options.
type AnalyticsConfig struct {
	IngestionURI string                          `yaml:"ingestionUri"`
	Database     string                          `yaml:"database"`
	TypeMappings map[string]AnalyticsTypeMapping `yaml:"typeMappings"`
}

// SinkConfig is one entry in the wiring file's sinks list: a name, a kind,
// options for that kind (only the matching block is read), and an
// optional rate limit and per-sink type-mapping override (the
// highest-precedence tier in router.resolveTypeMap).
type SinkConfig struct {
	Name string   `yaml:"name"`
	Kind SinkKind `yaml:"kind"`

	Kafka     *KafkaConfig     `yaml:"kafka"`
	MQTT      *MQTTConfig      `yaml:"mqtt"`
	Webhook   *WebhookConfig   `yaml:"webhook"`
	Analytics *AnalyticsConfig `yaml:"analytics"`

	RequestsPerSecond int                            `yaml:"requestsPerSecond"`
	Burst             int                            `yaml:"burst"`
	TypeMappings      map[cloudevents.TypeKey]string `yaml:"typeMappings"`
}

// EventRoute binds a sink to an output format, with an optional
// route-level type-mapping override.
type EventRoute struct {
	SinkName     string                          `yaml:"sinkName"`
	EventFormat  cloudevents.Format              `yaml:"eventFormat"`
	TypeMappings map[cloudevents.TypeKey]string  `yaml:"typeMappings"`
}

// WiringConfig is the top-level YAML document read by cmd/eventrouter: the
// sink list and the routes binding events to sinks.
type WiringConfig struct {
	Sinks  []SinkConfig `yaml:"sinks"`
	Routes []EventRoute `yaml:"routes"`
}

// LoadWiringConfig reads and parses the sink/route wiring file named by
// path.
func LoadWiringConfig(path string) (*WiringConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eventrouter: read wiring config %s: %w", path, err)
	}

	var cfg WiringConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("eventrouter: parse wiring config %s: %w", path, err)
	}

	return &cfg, nil
}

// RuntimeConfig holds the process-level settings read from the environment
// (connection strings, batch sizes, timeouts), mirroring storage.LoadConfig's
// env-getter pattern.
type RuntimeConfig struct {
	ReplicationConnString string
	TelemetryConnString   string
	SlotName              string
	Publication           string
	TelemetryChannel      string
	GraphName             string
	SourceURI             string
	ServiceID             string
	WiringConfigPath      string

	QueueCapacity   int
	MaxBatchSize    int
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// LoadRuntimeConfig loads RuntimeConfig from the environment with
// production-ready defaults.
func LoadRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ReplicationConnString: config.GetEnvStr("REPLICATION_DATABASE_URL", ""),
		TelemetryConnString:   config.GetEnvStr("TELEMETRY_DATABASE_URL", ""),
		SlotName:              config.GetEnvStr("REPLICATION_SLOT_NAME", "digitaltwins_eventrouter"),
		Publication:           config.GetEnvStr("REPLICATION_PUBLICATION", "digitaltwins_eventrouter"),
		TelemetryChannel:      config.GetEnvStr("TELEMETRY_CHANNEL", "digitaltwins_telemetry"),
		GraphName:             config.GetEnvStr("GRAPH_NAME", "default"),
		SourceURI:             config.GetEnvStr("EVENT_SOURCE_URI", "digitaltwins-eventrouter"),
		ServiceID:             config.GetEnvStr("SERVICE_ID", "digitaltwins-eventrouter"),
		WiringConfigPath:      config.GetEnvStr("WIRING_CONFIG_PATH", "./wiring.yaml"),
		QueueCapacity:         config.GetEnvInt("QUEUE_CAPACITY", 10000),
		MaxBatchSize:          config.GetEnvInt("ROUTER_MAX_BATCH_SIZE", 50),
		ShutdownTimeout:       config.GetEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:              config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func toOAuthConfig(c *OAuthConfig) *oauthcreds.Config {
	if c == nil {
		return nil
	}

	return &oauthcreds.Config{
		TenantID:     c.TenantID,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}

func kafkaOptions(name string, c *KafkaConfig) kafka.Options {
	opts := kafka.Options{
		Name:             name,
		Brokers:          c.Brokers,
		Topic:            c.Topic,
		SecurityProtocol: kafka.SecurityProtocol(c.SecurityProtocol),
		SaslMechanism:    kafka.SaslMechanism(c.SaslMechanism),
		Username:         c.Username,
		Password:         c.Password,
	}

	if c.OAuth != nil {
		opts.OAuth = toOAuthConfig(c.OAuth)
	}

	return opts
}

func mqttOptions(name string, c *MQTTConfig) mqtt.Options {
	opts := mqtt.Options{
		Name:            name,
		BrokerHost:      c.BrokerHost,
		BrokerPort:      c.BrokerPort,
		ClientID:        c.ClientID,
		Topic:           c.Topic,
		ProtocolVersion: mqtt.ProtocolVersion(c.ProtocolVersion),
		Username:        c.Username,
		Password:        c.Password,
	}

	if c.OAuth != nil {
		opts.OAuth = toOAuthConfig(c.OAuth)
	}

	return opts
}

func webhookOptions(name string, c *WebhookConfig) webhook.Options {
	opts := webhook.Options{
		Name:        name,
		URL:         c.URL,
		AuthType:    webhook.AuthType(c.AuthType),
		Username:    c.Username,
		Password:    c.Password,
		BearerToken: c.BearerToken,
	}

	if c.OAuth != nil {
		opts.OAuth = toOAuthConfig(c.OAuth)
	}

	return opts
}

func analyticsOptions(name string, c *AnalyticsConfig) analytics.Options {
	mappings := make(map[string]analytics.TypeMapping, len(c.TypeMappings))
	for k, v := range c.TypeMappings {
		mappings[k] = analytics.TypeMapping{Table: v.Table, IngestionMappingRef: v.IngestionMappingRef}
	}

	return analytics.Options{
		Name:         name,
		IngestionURI: c.IngestionURI,
		Database:     c.Database,
		TypeMappings: mappings,
	}
}
