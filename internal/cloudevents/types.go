// Package cloudevents implements the CloudEvent factory (C2): a pure,
// deterministic transformation from a replication EventData into one or
// more CloudEvents 1.0 envelopes, under one of three output formats.
package cloudevents

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Format selects the shape family of CloudEvents produced for a route.
type Format string

const (
	EventNotification Format = "EventNotification"
	DataHistory        Format = "DataHistory"
	TelemetryFormat     Format = "Telemetry"
)

// TypeKey is the sink-facing event-type enum used to look up a wire type
// string, independent of the Format that produced the CloudEvent.
type TypeKey string

const (
	TypeTwinCreate           TypeKey = "TwinCreate"
	TypeTwinUpdate           TypeKey = "TwinUpdate"
	TypeTwinDelete           TypeKey = "TwinDelete"
	TypeRelationshipCreate   TypeKey = "RelationshipCreate"
	TypeRelationshipUpdate   TypeKey = "RelationshipUpdate"
	TypeRelationshipDelete   TypeKey = "RelationshipDelete"
	TypeTwinLifecycle        TypeKey = "TwinLifecycle"
	TypeRelationshipLifecycle TypeKey = "RelationshipLifecycle"
	TypePropertyEvent        TypeKey = "PropertyEvent"
	TypeTelemetry            TypeKey = "Telemetry"
)

// DefaultTypeMap is the built-in wire-type vocabulary, overridable per sink
// or per route via a typeMappings dictionary keyed by TypeKey.
var DefaultTypeMap = map[TypeKey]string{
	TypeTwinCreate:            "Konnektr.DigitalTwins.Twin.Create",
	TypeTwinUpdate:            "Konnektr.DigitalTwins.Twin.Update",
	TypeTwinDelete:            "Konnektr.DigitalTwins.Twin.Delete",
	TypeRelationshipCreate:    "Konnektr.DigitalTwins.Relationship.Create",
	TypeRelationshipUpdate:    "Konnektr.DigitalTwins.Relationship.Update",
	TypeRelationshipDelete:    "Konnektr.DigitalTwins.Relationship.Delete",
	TypeTwinLifecycle:         "Konnektr.DigitalTwins.Twin.Lifecycle",
	TypeRelationshipLifecycle: "Konnektr.DigitalTwins.Relationship.Lifecycle",
	TypePropertyEvent:         "Konnektr.DigitalTwins.Property.Event",
	TypeTelemetry:             "Konnektr.DigitalTwins.Telemetry",
}

// ErrInvalidEventData is returned when the factory receives an EventData
// whose shape does not match what the requested format requires: wrong
// event type, a missing $dtId/$relationshipId, or a required side that
// is nil.
var ErrInvalidEventData = errors.New("cloudevents: invalid event data")

// CloudEvent is a CloudEvents 1.0 envelope. Data carries the format-specific
// payload described by the factory rules; it is never mutated after
// construction.
type CloudEvent struct {
	ID              string                 `json:"id"`
	Source          string                 `json:"source"`
	Type            string                 `json:"type"`
	Subject         string                 `json:"subject"`
	Time            time.Time              `json:"time"`
	SpecVersion     string                 `json:"specversion"`
	DataContentType string                 `json:"datacontenttype"`
	Data            map[string]interface{} `json:"data"`
}

func newCloudEvent(source, typ, subject string, t time.Time, data map[string]interface{}) CloudEvent {
	return CloudEvent{
		ID:              uuid.NewString(),
		Source:          source,
		Type:            typ,
		Subject:         subject,
		Time:            t,
		SpecVersion:     "1.0",
		DataContentType: "application/json",
		Data:            data,
	}
}

// resolveType applies per-sink/per-route overrides over the default type map.
func resolveType(key TypeKey, typeMap map[TypeKey]string) string {
	if typeMap != nil {
		if override, ok := typeMap[key]; ok {
			return override
		}
	}

	return DefaultTypeMap[key]
}
