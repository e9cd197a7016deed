package replication

import (
	"testing"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderState_Insert_SetsID(t *testing.T) {
	d := newDecoderState("graph-1")

	flushed := d.insert("Twin", "twin-1", map[string]interface{}{"$dtId": "twin-1"})
	assert.Nil(t, flushed)

	e := d.flushCurrent()

	require.NotNil(t, e)
	assert.Equal(t, "twin-1", e.ID)
	assert.Equal(t, "graph-1", e.GraphName)
	assert.Equal(t, "Twin", e.TableName)
	assert.Equal(t, events.TwinCreate, e.EventType)
}

func TestDecoderState_FullUpdate_SetsID(t *testing.T) {
	d := newDecoderState("graph-1")

	flushed := d.fullUpdate("Twin", "twin-1", "Twin", "twin-1",
		map[string]interface{}{"$dtId": "twin-1", "temperature": 20.0},
		map[string]interface{}{"$dtId": "twin-1", "temperature": 21.5})
	assert.Nil(t, flushed)

	e := d.flushCurrent()

	require.NotNil(t, e)
	assert.Equal(t, "twin-1", e.ID)
	assert.Equal(t, events.TwinUpdate, e.EventType)
}

func TestDecoderState_FullDelete_SetsID(t *testing.T) {
	d := newDecoderState("graph-1")

	flushed := d.fullDelete("Twin", "twin-1", map[string]interface{}{"$dtId": "twin-1"})
	assert.Nil(t, flushed)

	e := d.flushCurrent()

	require.NotNil(t, e)
	assert.Equal(t, "twin-1", e.ID)
	assert.Equal(t, events.TwinDelete, e.EventType)
}

func TestDecoderState_InsertThenDifferentEntity_FlushesPreviousWithID(t *testing.T) {
	d := newDecoderState("graph-1")

	d.insert("Twin", "twin-1", map[string]interface{}{"$dtId": "twin-1"})

	flushed := d.insert("Twin", "twin-2", map[string]interface{}{"$dtId": "twin-2"})

	require.NotNil(t, flushed)
	assert.Equal(t, "twin-1", flushed.ID)

	current := d.flushCurrent()
	require.NotNil(t, current)
	assert.Equal(t, "twin-2", current.ID)
}

func TestDecoderState_Commit_FlushesCurrentWithID(t *testing.T) {
	d := newDecoderState("graph-1")

	d.insert("Twin", "twin-1", map[string]interface{}{"$dtId": "twin-1"})

	flushed := d.commit()

	require.NotNil(t, flushed)
	assert.Equal(t, "twin-1", flushed.ID)

	// commit resets state, so a second commit with nothing current flushes
	// nothing.
	assert.Nil(t, d.commit())
}

func TestDecoderState_MultiStepUpdate_PreservesFirstOldValue(t *testing.T) {
	d := newDecoderState("graph-1")

	d.fullUpdate("Twin", "twin-1", "Twin", "twin-1",
		map[string]interface{}{"$dtId": "twin-1", "temperature": 20.0},
		map[string]interface{}{"$dtId": "twin-1", "temperature": 21.0})

	d.fullUpdate("Twin", "twin-1", "Twin", "twin-1",
		map[string]interface{}{"$dtId": "twin-1", "temperature": 21.0},
		map[string]interface{}{"$dtId": "twin-1", "temperature": 22.0})

	e := d.flushCurrent()

	require.NotNil(t, e)
	assert.Equal(t, "twin-1", e.ID)
	assert.Equal(t, 20.0, e.OldValue["temperature"])
	assert.Equal(t, 22.0, e.NewValue["temperature"])
}

func TestDecoderState_FullUpdate_MismatchedIDsAreIgnored(t *testing.T) {
	d := newDecoderState("graph-1")

	flushed := d.fullUpdate("Twin", "twin-1", "Twin", "twin-2",
		map[string]interface{}{"$dtId": "twin-1"},
		map[string]interface{}{"$dtId": "twin-2"})

	assert.Nil(t, flushed)
	assert.Nil(t, d.flushCurrent())
}

func TestDecoderState_FlushCurrent_InvalidEventIsDropped(t *testing.T) {
	d := newDecoderState("graph-1")

	// A delete carrying no old row image fails EventData.Validate (missing
	// oldValue), so flushCurrent must drop it rather than emit a half-formed
	// event.
	d.fullDelete("Twin", "twin-1", nil)

	assert.Nil(t, d.flushCurrent())
}

func TestDecoderState_Begin_ResetsState(t *testing.T) {
	d := newDecoderState("graph-1")
	d.insert("Twin", "twin-1", map[string]interface{}{"$dtId": "twin-1"})

	d.begin()

	assert.Equal(t, stateIdle, d.state)
	assert.Equal(t, "", d.id)
	assert.Nil(t, d.flushCurrent())
}
