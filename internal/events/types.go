// Package events defines the EventData domain model produced by the replication
// decoder and the telemetry listener, and the bounded queue (C1) that carries
// them to the router.
package events

import (
	"errors"
	"time"
)

// EventType enumerates the kinds of change an EventData can represent.
type EventType string

const (
	TwinCreate         EventType = "TwinCreate"
	TwinUpdate         EventType = "TwinUpdate"
	TwinDelete         EventType = "TwinDelete"
	RelationshipCreate EventType = "RelationshipCreate"
	RelationshipUpdate EventType = "RelationshipUpdate"
	RelationshipDelete EventType = "RelationshipDelete"
	Telemetry          EventType = "Telemetry"
)

// Sentinel errors for EventData validation. Invalid events are dropped with a
// warning log by the caller (decoder/listener), never propagated as fatal errors.
var (
	ErrMissingNewValue = errors.New("events: newValue is required for create/update events")
	ErrMissingOldValue = errors.New("events: oldValue is required for update/delete events")
	ErrUnknownType     = errors.New("events: unrecognized event type")
	ErrQueueClosed     = errors.New("events: queue is closed")
)

// EventData is the semantic record reconstructed from logical-replication
// messages or a telemetry NOTIFY payload. id, tableName, and graphName must
// never be mutated after construction; while the event is "current" inside the
// decoder's state machine, oldValue is kept from the first row image and
// newValue is replaced by each later one.
type EventData struct {
	ID        string
	GraphName string
	TableName string
	OldValue  map[string]interface{}
	NewValue  map[string]interface{}
	EventType EventType
	Timestamp time.Time
}

// Validate enforces the invariants from the data model: presence of
// newValue/oldValue depending on event kind, and a recognized event type.
func (e *EventData) Validate() error {
	switch e.EventType {
	case TwinCreate, TwinUpdate, RelationshipCreate, RelationshipUpdate:
		if e.NewValue == nil {
			return ErrMissingNewValue
		}
	case TwinDelete, RelationshipDelete, Telemetry:
		// newValue not required for deletes; telemetry requires newValue as payload,
		// checked by the listener before construction.
	default:
		return ErrUnknownType
	}

	switch e.EventType {
	case TwinUpdate, RelationshipUpdate, TwinDelete, RelationshipDelete:
		if e.OldValue == nil {
			return ErrMissingOldValue
		}
	}

	return nil
}

// IsTwin reports whether this event concerns a twin (as opposed to a relationship).
func (e *EventData) IsTwin() bool {
	switch e.EventType {
	case TwinCreate, TwinUpdate, TwinDelete:
		return true
	default:
		return false
	}
}

// InferEventTypeFromPayload determines the event kind from payload shape, per
// the decoder's rule: presence of $dtId means twin-kind, $relationshipId means
// relationship-kind, otherwise fall back to the table name.
func InferEventTypeFromPayload(payload map[string]interface{}, tableName string, isCreate, isUpdate, isDelete bool) EventType {
	_, hasDtID := payload["$dtId"]
	_, hasRelID := payload["$relationshipId"]

	isTwin := hasDtID || (!hasRelID && tableName == "Twin")

	switch {
	case isTwin && isCreate:
		return TwinCreate
	case isTwin && isUpdate:
		return TwinUpdate
	case isTwin && isDelete:
		return TwinDelete
	case isCreate:
		return RelationshipCreate
	case isUpdate:
		return RelationshipUpdate
	default:
		return RelationshipDelete
	}
}
