package importjob

import "errors"

// Sentinel errors for the import engine's error taxonomy.
var (
	// ErrValidation marks a malformed header or stream shape; the job
	// terminates with status failed and is never retried.
	ErrValidation = errors.New("importjob: validation error")

	// ErrDatabaseConnectivity signals the store connection could not be
	// restored after a single reopen attempt. The caller must leave the
	// job in running status for another instance to resume.
	ErrDatabaseConnectivity = errors.New("importjob: database connectivity lost")

	// ErrUnexpectedSection marks a section marker appearing out of the
	// fixed Header→Models→Twins→Relationships order.
	ErrUnexpectedSection = errors.New("importjob: unexpected section order")
)
