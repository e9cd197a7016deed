package main

import (
	"fmt"
	"log/slog"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/dlq"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/router"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/analytics"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/kafka"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/mqtt"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/sinks/webhook"
)

// buildSinks constructs one concrete Sink per entry in cfgs, wraps each in a
// ResilientSink (retry + DLQ + optional rate limit), and returns the
// registry keyed by sink name that router.New expects, plus the per-sink
// type-mapping overrides (the highest-precedence tier of resolveTypeMap).
func buildSinks(cfgs []SinkConfig, dlqStore *dlq.Store, logger *slog.Logger) (map[string]sinks.Sink, map[string]map[cloudevents.TypeKey]string, error) {
	registry := make(map[string]sinks.Sink, len(cfgs))
	typeMappings := make(map[string]map[cloudevents.TypeKey]string, len(cfgs))

	for _, c := range cfgs {
		inner, err := buildOneSink(c)
		if err != nil {
			return nil, nil, fmt.Errorf("eventrouter: build sink %s: %w", c.Name, err)
		}

		var opts []sinks.ResilientOption
		if c.RequestsPerSecond > 0 {
			opts = append(opts, sinks.WithRateLimit(c.RequestsPerSecond, c.Burst))
		}

		registry[c.Name] = sinks.NewResilientSink(inner, dlqStore, logger, opts...)

		if len(c.TypeMappings) > 0 {
			typeMappings[c.Name] = c.TypeMappings
		}
	}

	return registry, typeMappings, nil
}

func buildOneSink(c SinkConfig) (sinks.Sink, error) {
	switch c.Kind {
	case SinkKafka:
		if c.Kafka == nil {
			return nil, fmt.Errorf("sink %s: kind Kafka requires a kafka: block", c.Name)
		}

		return kafka.New(kafkaOptions(c.Name, c.Kafka))
	case SinkMQTT:
		if c.MQTT == nil {
			return nil, fmt.Errorf("sink %s: kind Mqtt requires an mqtt: block", c.Name)
		}

		return mqtt.New(mqttOptions(c.Name, c.MQTT))
	case SinkWebhook:
		if c.Webhook == nil {
			return nil, fmt.Errorf("sink %s: kind Webhook requires a webhook: block", c.Name)
		}

		return webhook.New(webhookOptions(c.Name, c.Webhook))
	case SinkAnalytics:
		if c.Analytics == nil {
			return nil, fmt.Errorf("sink %s: kind Analytics requires an analytics: block", c.Name)
		}

		return analytics.New(analyticsOptions(c.Name, c.Analytics))
	default:
		return nil, fmt.Errorf("sink %s: unknown kind %q", c.Name, c.Kind)
	}
}

// buildRoutes converts the wiring file's routes into router.Route values.
func buildRoutes(routes []EventRoute) []router.Route {
	out := make([]router.Route, 0, len(routes))

	for _, r := range routes {
		out = append(out, router.Route{
			SinkName:     r.SinkName,
			EventFormat:  r.EventFormat,
			TypeMappings: r.TypeMappings,
		})
	}

	return out
}
