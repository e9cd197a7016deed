// Package sinks defines the sink contract (C3) and a resilient wrapper that
// adds retry-with-backoff and dead-letter persistence around any concrete
// sink implementation (Kafka, MQTT, webhook, analytics ingestor).
package sinks

import (
	"context"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
)

// Sink delivers a batch of CloudEvents to a downstream system. SendBatch
// preserves input order for events dispatched within a single call; no
// ordering guarantee holds across separate calls.
type Sink interface {
	Name() string
	IsHealthy() bool
	SendBatch(ctx context.Context, batch []cloudevents.CloudEvent) error
}
