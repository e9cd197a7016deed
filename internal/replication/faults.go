package replication

import "strings"

// connectionErrorMarkers are substrings of socket-level failures that
// warrant disposing the connection and retrying after a short sleep,
// rather than treating the error as something to log-and-continue.
var connectionErrorMarkers = []string{
	"end of stream",
	"server closed connection",
	"connection is broken",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"use of closed network connection",
	"EOF",
}

// slotInvalidatedMarkers are substrings indicating the replication slot
// itself needs to be dropped and recreated before retrying.
var slotInvalidatedMarkers = []string{
	"invalidated",
	"can no longer get changes from replication slot",
}

// isConnectionError reports whether err looks like a transient,
// socket-level failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// isSlotInvalidated reports whether err indicates the replication slot was
// invalidated (e.g. by max_slot_wal_keep_size) and must be recreated.
func isSlotInvalidated(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	for _, marker := range slotInvalidatedMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
