// Package replication owns the logical-replication connection (C5): it
// ensures the replication slot exists, decodes pgoutput messages into
// EventData via a per-transaction state machine, and classifies faults so
// the caller can recover without losing its place in the WAL stream.
package replication

import (
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/events"
)

// state is the decoder's per-transaction state machine (4.5). The zero
// value is stateIdle.
type state int

const (
	stateIdle state = iota
	stateCollecting
)

// decoderState tracks the "current event" being assembled across messages
// within one transaction. Only one entity can be "current" at a time; a
// message for a different (id, table) flushes the current event first.
type decoderState struct {
	state     state
	id        string
	table     string
	graphName string
	current   events.EventData
}

func newDecoderState(graphName string) *decoderState {
	return &decoderState{state: stateIdle, graphName: graphName}
}

// begin resets state at the start of a new transaction.
func (d *decoderState) begin() {
	d.state = stateIdle
	d.id = ""
	d.table = ""
	d.current = events.EventData{}
}

// insert handles a row insert. If a different entity is already current,
// it is flushed first.
func (d *decoderState) insert(table, id string, row map[string]interface{}) (flushed *events.EventData) {
	flushed = d.flushIfDifferent(table, id)

	d.enterCollecting(table, id)
	d.current.NewValue = row
	d.current.OldValue = map[string]interface{}{}
	d.current.EventType = events.InferEventTypeFromPayload(row, table, true, false, false)

	return flushed
}

// fullUpdate handles an update carrying both the old and new row image.
// oldValue is only set if this is the first update seen for the entity
// within the transaction, preserving the externally observable old state
// across multi-step updates to the same row (4.5 rationale).
func (d *decoderState) fullUpdate(oldTable, oldID, newTable, newID string, oldRow, newRow map[string]interface{}) (flushed *events.EventData) {
	if oldID == "" || newID == "" || oldID != newID {
		return nil
	}

	flushed = d.flushIfDifferent(newTable, newID)

	wasCollecting := d.state == stateCollecting && d.id == newID && d.table == newTable

	d.enterCollecting(newTable, newID)
	d.current.NewValue = newRow

	if !wasCollecting || d.current.OldValue == nil {
		d.current.OldValue = oldRow
	}

	d.current.EventType = events.InferEventTypeFromPayload(newRow, newTable, false, true, false)

	return flushed
}

// fullDelete handles a delete carrying the deleted row's old image.
func (d *decoderState) fullDelete(table, id string, oldRow map[string]interface{}) (flushed *events.EventData) {
	flushed = d.flushIfDifferent(table, id)

	wasCollecting := d.state == stateCollecting && d.id == id && d.table == table

	d.enterCollecting(table, id)

	if !wasCollecting || d.current.OldValue == nil {
		d.current.OldValue = oldRow
	}

	d.current.EventType = events.InferEventTypeFromPayload(oldRow, table, false, false, true)

	return flushed
}

// commit flushes any current event at transaction end.
func (d *decoderState) commit() (flushed *events.EventData) {
	flushed = d.flushCurrent()
	d.begin()

	return flushed
}

func (d *decoderState) enterCollecting(table, id string) {
	d.state = stateCollecting
	d.table = table
	d.id = id
}

// flushIfDifferent emits the current event when the incoming message
// targets a different entity than the one currently being collected.
func (d *decoderState) flushIfDifferent(table, id string) *events.EventData {
	if d.state != stateCollecting {
		return nil
	}

	if d.table == table && d.id == id {
		return nil
	}

	return d.flushCurrent()
}

func (d *decoderState) flushCurrent() *events.EventData {
	if d.state != stateCollecting {
		return nil
	}

	e := d.current
	e.ID = d.id
	e.GraphName = d.graphName
	e.TableName = d.table

	if err := e.Validate(); err != nil {
		return nil
	}

	return &e
}
