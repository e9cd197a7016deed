package cloudevents

import (
	"fmt"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/patchdiff"
)

// Build is the CloudEvent factory (C2): given an EventData, a per-process
// source URI, the route's output format, and an optional type-mapping
// override, it returns the CloudEvents that event produces. The returned
// slice is ordered: lifecycle event first (DataHistory), then property
// events in patch-operation order.
func Build(e events.EventData, source, serviceID string, format Format, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	switch format {
	case EventNotification:
		ce, err := buildEventNotification(e, source, typeMap)
		if err != nil {
			return nil, err
		}

		return []CloudEvent{ce}, nil
	case DataHistory:
		return buildDataHistory(e, source, serviceID, typeMap)
	case TelemetryFormat:
		ce, err := buildTelemetry(e, source, typeMap)
		if err != nil {
			return nil, err
		}

		return []CloudEvent{ce}, nil
	default:
		return nil, fmt.Errorf("cloudevents: unknown format %q: %w", format, ErrInvalidEventData)
	}
}

func buildEventNotification(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	switch e.EventType {
	case events.TwinCreate, events.TwinDelete:
		return buildTwinNotificationLifecycle(e, source, typeMap)
	case events.TwinUpdate:
		return buildTwinNotificationUpdate(e, source, typeMap)
	case events.RelationshipCreate, events.RelationshipDelete:
		return buildRelationshipNotificationLifecycle(e, source, typeMap)
	case events.RelationshipUpdate:
		return buildRelationshipNotificationUpdate(e, source, typeMap)
	default:
		return CloudEvent{}, fmt.Errorf("cloudevents: event type %q not valid for EventNotification: %w", e.EventType, ErrInvalidEventData)
	}
}

func buildTwinNotificationLifecycle(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	value := e.NewValue
	key := TypeTwinCreate
	if e.EventType == events.TwinDelete {
		value = e.OldValue
		key = TypeTwinDelete
	}

	dtID, ok := stringField(value, "$dtId")
	if !ok {
		return CloudEvent{}, fmt.Errorf("cloudevents: missing $dtId: %w", ErrInvalidEventData)
	}

	return newCloudEvent(source, resolveType(key, typeMap), dtID, e.Timestamp, value), nil
}

func buildTwinNotificationUpdate(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	if e.OldValue == nil || e.NewValue == nil {
		return CloudEvent{}, fmt.Errorf("cloudevents: update requires oldValue and newValue: %w", ErrInvalidEventData)
	}

	dtID, ok := stringField(e.NewValue, "$dtId")
	if !ok {
		return CloudEvent{}, fmt.Errorf("cloudevents: missing $dtId: %w", ErrInvalidEventData)
	}

	modelID, _ := modelID(e.NewValue)
	ops := patchdiff.Diff(e.OldValue, e.NewValue)

	data := map[string]interface{}{
		"modelId": modelID,
		"patch":   ops,
	}

	return newCloudEvent(source, resolveType(TypeTwinUpdate, typeMap), dtID, e.Timestamp, data), nil
}

func buildRelationshipNotificationLifecycle(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	value := e.NewValue
	key := TypeRelationshipCreate
	if e.EventType == events.RelationshipDelete {
		value = e.OldValue
		key = TypeRelationshipDelete
	}

	subject, err := relationshipSubject(value)
	if err != nil {
		return CloudEvent{}, err
	}

	return newCloudEvent(source, resolveType(key, typeMap), subject, e.Timestamp, value), nil
}

func buildRelationshipNotificationUpdate(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	if e.OldValue == nil || e.NewValue == nil {
		return CloudEvent{}, fmt.Errorf("cloudevents: update requires oldValue and newValue: %w", ErrInvalidEventData)
	}

	subject, err := relationshipSubject(e.NewValue)
	if err != nil {
		return CloudEvent{}, err
	}

	modelID, _ := modelID(e.NewValue)
	ops := patchdiff.Diff(e.OldValue, e.NewValue)

	data := map[string]interface{}{
		"modelId": modelID,
		"patch":   ops,
	}

	return newCloudEvent(source, resolveType(TypeRelationshipUpdate, typeMap), subject, e.Timestamp, data), nil
}

func buildTelemetry(e events.EventData, source string, typeMap map[TypeKey]string) (CloudEvent, error) {
	if e.NewValue == nil {
		return CloudEvent{}, fmt.Errorf("cloudevents: telemetry requires a payload: %w", ErrInvalidEventData)
	}

	dtID, ok := stringField(e.NewValue, "$dtId")
	if !ok {
		dtID, ok = stringField(e.NewValue, "digitalTwinId")
	}
	if !ok {
		return CloudEvent{}, fmt.Errorf("cloudevents: telemetry payload missing digitalTwinId: %w", ErrInvalidEventData)
	}

	return newCloudEvent(source, resolveType(TypeTelemetry, typeMap), dtID, e.Timestamp, e.NewValue), nil
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}

	v, ok := m[key]
	if !ok {
		return "", false
	}

	s, ok := v.(string)
	return s, ok
}

func modelID(twin map[string]interface{}) (string, bool) {
	meta, ok := twin["$metadata"].(map[string]interface{})
	if !ok {
		return "", false
	}

	return stringField(meta, "$model")
}

func relationshipSubject(rel map[string]interface{}) (string, error) {
	sourceID, ok := stringField(rel, "$sourceId")
	if !ok {
		return "", fmt.Errorf("cloudevents: missing $sourceId: %w", ErrInvalidEventData)
	}

	relID, ok := stringField(rel, "$relationshipId")
	if !ok {
		return "", fmt.Errorf("cloudevents: missing $relationshipId: %w", ErrInvalidEventData)
	}

	return fmt.Sprintf("%s/relationships/%s", sourceID, relID), nil
}
