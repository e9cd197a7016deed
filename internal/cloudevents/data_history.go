package cloudevents

import (
	"fmt"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/patchdiff"
)

func buildDataHistory(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	if e.IsTwin() {
		return buildTwinDataHistory(e, source, serviceID, typeMap)
	}

	return buildRelationshipDataHistory(e, source, serviceID, typeMap)
}

func buildTwinDataHistory(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	switch e.EventType {
	case events.TwinCreate, events.TwinDelete:
		return buildTwinLifecycleAndProperties(e, source, serviceID, typeMap)
	case events.TwinUpdate:
		return buildTwinUpdateHistory(e, source, serviceID, typeMap)
	default:
		return nil, fmt.Errorf("cloudevents: event type %q not valid for DataHistory twin: %w", e.EventType, ErrInvalidEventData)
	}
}

func buildTwinLifecycleAndProperties(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	value := e.NewValue
	action := "Create"
	if e.EventType == events.TwinDelete {
		value = e.OldValue
		action = "Delete"
	}

	dtID, ok := stringField(value, "$dtId")
	if !ok {
		return nil, fmt.Errorf("cloudevents: missing $dtId: %w", ErrInvalidEventData)
	}

	model, _ := modelID(value)

	lifecycleData := map[string]interface{}{
		"twinId":    dtID,
		"action":    action,
		"timeStamp": e.Timestamp,
		"serviceId": serviceID,
		"modelId":   model,
	}

	result := []CloudEvent{newCloudEvent(source, resolveType(TypeTwinLifecycle, typeMap), dtID, e.Timestamp, lifecycleData)}

	if e.EventType == events.TwinCreate {
		ops := patchdiff.Diff(map[string]interface{}{}, value)
		result = append(result, propertyEvents(ops, dtID, model, source, e.Timestamp, typeMap)...)
	}

	return result, nil
}

func buildTwinUpdateHistory(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	if e.OldValue == nil || e.NewValue == nil {
		return nil, fmt.Errorf("cloudevents: update requires oldValue and newValue: %w", ErrInvalidEventData)
	}

	dtID, ok := stringField(e.NewValue, "$dtId")
	if !ok {
		return nil, fmt.Errorf("cloudevents: missing $dtId: %w", ErrInvalidEventData)
	}

	newModel, _ := modelID(e.NewValue)
	oldModel, _ := modelID(e.OldValue)

	ops := patchdiff.Diff(e.OldValue, e.NewValue)

	var result []CloudEvent

	if newModel != oldModel {
		lifecycleData := map[string]interface{}{
			"twinId":    dtID,
			"action":    "Update",
			"timeStamp": e.Timestamp,
			"serviceId": serviceID,
			"modelId":   newModel,
		}
		result = append(result, newCloudEvent(source, resolveType(TypeTwinLifecycle, typeMap), dtID, e.Timestamp, lifecycleData))
	}

	result = append(result, propertyEvents(ops, dtID, newModel, source, e.Timestamp, typeMap)...)

	return result, nil
}

func buildRelationshipDataHistory(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	switch e.EventType {
	case events.RelationshipCreate, events.RelationshipDelete:
		return buildRelationshipLifecycleAndProperties(e, source, serviceID, typeMap)
	case events.RelationshipUpdate:
		return buildRelationshipUpdateHistory(e, source, serviceID, typeMap)
	default:
		return nil, fmt.Errorf("cloudevents: event type %q not valid for DataHistory relationship: %w", e.EventType, ErrInvalidEventData)
	}
}

func buildRelationshipLifecycleAndProperties(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	value := e.NewValue
	action := "Create"
	if e.EventType == events.RelationshipDelete {
		value = e.OldValue
		action = "Delete"
	}

	subject, err := relationshipSubject(value)
	if err != nil {
		return nil, err
	}

	relID, _ := stringField(value, "$relationshipId")
	sourceID, _ := stringField(value, "$sourceId")
	targetID, _ := stringField(value, "$targetId")
	name, _ := stringField(value, "$relationshipName")

	lifecycleData := map[string]interface{}{
		"relationshipId": relID,
		"action":         action,
		"timeStamp":      e.Timestamp,
		"serviceId":      serviceID,
		"name":           name,
		"source":         sourceID,
		"target":         targetID,
	}

	result := []CloudEvent{newCloudEvent(source, resolveType(TypeRelationshipLifecycle, typeMap), subject, e.Timestamp, lifecycleData)}

	if e.EventType == events.RelationshipCreate {
		ops := patchdiff.Diff(map[string]interface{}{}, value)
		result = append(result, propertyEvents(ops, relID, "", source, e.Timestamp, typeMap)...)
	}

	return result, nil
}

func buildRelationshipUpdateHistory(e events.EventData, source, serviceID string, typeMap map[TypeKey]string) ([]CloudEvent, error) {
	if e.OldValue == nil || e.NewValue == nil {
		return nil, fmt.Errorf("cloudevents: update requires oldValue and newValue: %w", ErrInvalidEventData)
	}

	subject, err := relationshipSubject(e.NewValue)
	if err != nil {
		return nil, err
	}

	relID, _ := stringField(e.NewValue, "$relationshipId")
	sourceID, _ := stringField(e.NewValue, "$sourceId")
	targetID, _ := stringField(e.NewValue, "$targetId")
	name, _ := stringField(e.NewValue, "$relationshipName")

	ops := patchdiff.Diff(e.OldValue, e.NewValue)

	lifecycleData := map[string]interface{}{
		"relationshipId": relID,
		"action":         "Update",
		"timeStamp":      e.Timestamp,
		"serviceId":      serviceID,
		"name":           name,
		"source":         sourceID,
		"target":         targetID,
	}

	result := []CloudEvent{newCloudEvent(source, resolveType(TypeRelationshipLifecycle, typeMap), subject, e.Timestamp, lifecycleData)}
	result = append(result, propertyEvents(ops, relID, "", source, e.Timestamp, typeMap)...)

	return result, nil
}

// propertyEvents turns patch ops into one PropertyEvent CloudEvent per
// non-"$"-prefixed operation, in patch order. A sibling
// /$metadata/{key}/sourceTime operation, if present, is folded in as
// sourceTimeStamp on the matching property event rather than emitted on
// its own.
func propertyEvents(ops []patchdiff.Op, subjectID, modelID, source string, t time.Time, typeMap map[TypeKey]string) []CloudEvent {
	sourceTimes := make(map[string]interface{}, len(ops))
	for _, op := range ops {
		key, ok := matchSourceTimePath(op.Path)
		if ok {
			sourceTimes[key] = op.Value
		}
	}

	var result []CloudEvent

	for _, op := range ops {
		if patchdiff.IsMetadataPath(op.Path) {
			continue
		}

		action, err := patchdiff.PropertyAction(op.Op)
		if err != nil {
			continue
		}

		key := patchdiff.PropertyKey(op.Path)

		data := map[string]interface{}{
			"id":      subjectID,
			"modelId": modelID,
			"key":     key,
			"value":   op.Value,
			"action":  action,
		}

		if st, ok := sourceTimes[key]; ok {
			data["sourceTimeStamp"] = st
		}

		result = append(result, newCloudEvent(source, resolveType(TypePropertyEvent, typeMap), subjectID, t, data))
	}

	return result
}

func matchSourceTimePath(path string) (key string, ok bool) {
	const prefix = "/$metadata/"
	const suffix = "/sourceTime"

	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}

	if path[:len(prefix)] != prefix || path[len(path)-len(suffix):] != suffix {
		return "", false
	}

	return path[len(prefix) : len(path)-len(suffix)], true
}
