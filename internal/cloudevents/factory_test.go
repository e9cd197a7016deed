package cloudevents

import (
	"testing"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twinCreateEvent() events.EventData {
	return events.EventData{
		EventType: events.TwinCreate,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NewValue: map[string]interface{}{
			"$dtId": "twin-1",
			"$metadata": map[string]interface{}{
				"$model": "dtmi:example:room;1",
			},
			"temperature": 21.5,
		},
	}
}

func TestBuild_EventNotification_TwinCreate(t *testing.T) {
	ces, err := Build(twinCreateEvent(), "src", "svc", EventNotification, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "twin-1", ces[0].Subject)
	assert.Equal(t, DefaultTypeMap[TypeTwinCreate], ces[0].Type)
	assert.Equal(t, "src", ces[0].Source)
	assert.Equal(t, "1.0", ces[0].SpecVersion)
}

func TestBuild_EventNotification_TypeMapOverride(t *testing.T) {
	typeMap := map[TypeKey]string{TypeTwinCreate: "custom.twin.created"}

	ces, err := Build(twinCreateEvent(), "src", "svc", EventNotification, typeMap)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "custom.twin.created", ces[0].Type)
}

func TestBuild_EventNotification_TwinUpdate(t *testing.T) {
	e := events.EventData{
		EventType: events.TwinUpdate,
		Timestamp: time.Now(),
		OldValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"temperature": 20.0,
		},
		NewValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"temperature": 21.5,
		},
	}

	ces, err := Build(e, "src", "svc", EventNotification, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "twin-1", ces[0].Subject)
	assert.Equal(t, DefaultTypeMap[TypeTwinUpdate], ces[0].Type)
	assert.Contains(t, ces[0].Data, "patch")
}

func TestBuild_EventNotification_MissingDtID(t *testing.T) {
	e := events.EventData{
		EventType: events.TwinCreate,
		NewValue:  map[string]interface{}{"temperature": 21.5},
	}

	_, err := Build(e, "src", "svc", EventNotification, nil)

	assert.ErrorIs(t, err, ErrInvalidEventData)
}

func TestBuild_EventNotification_Telemetry_NotValid(t *testing.T) {
	e := events.EventData{
		EventType: events.Telemetry,
		NewValue:  map[string]interface{}{"$dtId": "twin-1"},
	}

	_, err := Build(e, "src", "svc", EventNotification, nil)

	assert.ErrorIs(t, err, ErrInvalidEventData)
}

func TestBuild_DataHistory_TwinCreate_EmitsLifecycleAndProperties(t *testing.T) {
	ces, err := Build(twinCreateEvent(), "src", "eventrouter", DataHistory, nil)

	require.NoError(t, err)
	require.Len(t, ces, 2)
	assert.Equal(t, DefaultTypeMap[TypeTwinLifecycle], ces[0].Type)
	assert.Equal(t, "Create", ces[0].Data["action"])
	assert.Equal(t, DefaultTypeMap[TypePropertyEvent], ces[1].Type)
	assert.Equal(t, "temperature", ces[1].Data["key"])
	assert.Equal(t, 21.5, ces[1].Data["value"])
}

func TestBuild_DataHistory_TwinUpdate_ModelUnchanged_NoLifecycleEvent(t *testing.T) {
	e := events.EventData{
		EventType: events.TwinUpdate,
		Timestamp: time.Now(),
		OldValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"$metadata":   map[string]interface{}{"$model": "dtmi:example:room;1"},
			"temperature": 20.0,
		},
		NewValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"$metadata":   map[string]interface{}{"$model": "dtmi:example:room;1"},
			"temperature": 21.5,
		},
	}

	ces, err := Build(e, "src", "eventrouter", DataHistory, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, DefaultTypeMap[TypePropertyEvent], ces[0].Type)
}

func TestBuild_DataHistory_TwinUpdate_MetadataOnlyChange_EmitsOnePropertyEvent(t *testing.T) {
	e := events.EventData{
		EventType: events.TwinUpdate,
		Timestamp: time.Now(),
		OldValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"$metadata":   map[string]interface{}{"$model": "dtmi:example:room;1", "temperature": map[string]interface{}{"lastUpdateTime": "2026-07-30T00:00:00Z"}},
			"temperature": 21.5,
		},
		NewValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"$metadata":   map[string]interface{}{"$model": "dtmi:example:room;1", "temperature": map[string]interface{}{"lastUpdateTime": "2026-07-31T00:00:00Z"}},
			"temperature": 21.5,
		},
	}

	ces, err := Build(e, "src", "eventrouter", DataHistory, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, DefaultTypeMap[TypePropertyEvent], ces[0].Type)
}

func TestBuild_DataHistory_TwinUpdate_ModelChanged_EmitsLifecycle(t *testing.T) {
	e := events.EventData{
		EventType: events.TwinUpdate,
		Timestamp: time.Now(),
		OldValue: map[string]interface{}{
			"$dtId":     "twin-1",
			"$metadata": map[string]interface{}{"$model": "dtmi:example:room;1"},
		},
		NewValue: map[string]interface{}{
			"$dtId":     "twin-1",
			"$metadata": map[string]interface{}{"$model": "dtmi:example:room;2"},
		},
	}

	ces, err := Build(e, "src", "eventrouter", DataHistory, nil)

	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ces), 1)
	assert.Equal(t, DefaultTypeMap[TypeTwinLifecycle], ces[0].Type)
	assert.Equal(t, "dtmi:example:room;2", ces[0].Data["modelId"])
}

func TestBuild_Telemetry(t *testing.T) {
	e := events.EventData{
		EventType: events.Telemetry,
		Timestamp: time.Now(),
		NewValue: map[string]interface{}{
			"$dtId":       "twin-1",
			"temperature": 22.0,
		},
	}

	ces, err := Build(e, "src", "svc", TelemetryFormat, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "twin-1", ces[0].Subject)
	assert.Equal(t, DefaultTypeMap[TypeTelemetry], ces[0].Type)
}

func TestBuild_Telemetry_FallsBackToDigitalTwinIdField(t *testing.T) {
	e := events.EventData{
		EventType: events.Telemetry,
		NewValue: map[string]interface{}{
			"digitalTwinId": "twin-2",
		},
	}

	ces, err := Build(e, "src", "svc", TelemetryFormat, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "twin-2", ces[0].Subject)
}

func TestBuild_Telemetry_MissingPayload(t *testing.T) {
	e := events.EventData{EventType: events.Telemetry}

	_, err := Build(e, "src", "svc", TelemetryFormat, nil)

	assert.ErrorIs(t, err, ErrInvalidEventData)
}

func TestBuild_UnknownFormat(t *testing.T) {
	_, err := Build(twinCreateEvent(), "src", "svc", Format("Bogus"), nil)

	assert.ErrorIs(t, err, ErrInvalidEventData)
}

func TestBuild_RelationshipCreate(t *testing.T) {
	e := events.EventData{
		EventType: events.RelationshipCreate,
		Timestamp: time.Now(),
		NewValue: map[string]interface{}{
			"$relationshipId": "rel-1",
			"$sourceId":       "twin-1",
			"$targetId":       "twin-2",
			"$relationshipName": "contains",
		},
	}

	ces, err := Build(e, "src", "svc", EventNotification, nil)

	require.NoError(t, err)
	require.Len(t, ces, 1)
	assert.Equal(t, "twin-1/relationships/rel-1", ces[0].Subject)
	assert.Equal(t, DefaultTypeMap[TypeRelationshipCreate], ces[0].Type)
}
