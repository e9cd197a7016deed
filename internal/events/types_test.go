package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventData_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   EventData
		wantErr error
	}{
		{
			name:  "twin create requires new value",
			event: EventData{EventType: TwinCreate},
			wantErr: ErrMissingNewValue,
		},
		{
			name: "twin create with new value is valid",
			event: EventData{
				EventType: TwinCreate,
				NewValue:  map[string]interface{}{"$dtId": "twin-1"},
			},
		},
		{
			name: "twin update requires old and new value",
			event: EventData{
				EventType: TwinUpdate,
				NewValue:  map[string]interface{}{"$dtId": "twin-1"},
			},
			wantErr: ErrMissingOldValue,
		},
		{
			name: "twin delete requires old value only",
			event: EventData{
				EventType: TwinDelete,
				OldValue:  map[string]interface{}{"$dtId": "twin-1"},
			},
		},
		{
			name: "telemetry without new value passes validation",
			event: EventData{
				EventType: Telemetry,
			},
		},
		{
			name:    "unknown type is rejected",
			event:   EventData{EventType: "Bogus"},
			wantErr: ErrUnknownType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEventData_IsTwin(t *testing.T) {
	assert.True(t, (&EventData{EventType: TwinCreate}).IsTwin())
	assert.True(t, (&EventData{EventType: TwinUpdate}).IsTwin())
	assert.True(t, (&EventData{EventType: TwinDelete}).IsTwin())
	assert.False(t, (&EventData{EventType: RelationshipCreate}).IsTwin())
	assert.False(t, (&EventData{EventType: Telemetry}).IsTwin())
}

func TestInferEventTypeFromPayload(t *testing.T) {
	tests := []struct {
		name      string
		payload   map[string]interface{}
		tableName string
		isCreate  bool
		isUpdate  bool
		isDelete  bool
		want      EventType
	}{
		{
			name:      "dtId present and create",
			payload:   map[string]interface{}{"$dtId": "twin-1"},
			isCreate:  true,
			want:      TwinCreate,
		},
		{
			name:      "dtId present and update",
			payload:   map[string]interface{}{"$dtId": "twin-1"},
			isUpdate:  true,
			want:      TwinUpdate,
		},
		{
			name:      "dtId present and delete",
			payload:   map[string]interface{}{"$dtId": "twin-1"},
			isDelete:  true,
			want:      TwinDelete,
		},
		{
			name:      "relationshipId present and create",
			payload:   map[string]interface{}{"$relationshipId": "rel-1"},
			isCreate:  true,
			want:      RelationshipCreate,
		},
		{
			name:      "no id fields falls back to table name Twin",
			payload:   map[string]interface{}{},
			tableName: "Twin",
			isUpdate:  true,
			want:      TwinUpdate,
		},
		{
			name:      "no id fields and non-twin table is a relationship",
			payload:   map[string]interface{}{},
			tableName: "Relationship",
			isDelete:  true,
			want:      RelationshipDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferEventTypeFromPayload(tt.payload, tt.tableName, tt.isCreate, tt.isUpdate, tt.isDelete)
			assert.Equal(t, tt.want, got)
		})
	}
}
