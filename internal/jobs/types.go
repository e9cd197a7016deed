// Package jobs implements the job service (C8): persistence of long-running
// import/delete jobs and a distributed lease protocol so at most one
// process instance works a given job at a time. Each graph gets its own
// schema (<graphName>_jobs), created on demand rather than via a fixed
// golang-migrate migration, since the schema name is a runtime parameter.
package jobs

import (
	"encoding/json"
	"errors"
	"time"
)

// JobType enumerates the kinds of job this service tracks.
type JobType string

const (
	JobTypeImport JobType = "import"
	JobTypeDelete JobType = "delete"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusNotStarted        Status = "notStarted"
	StatusRunning            Status = "running"
	StatusCancelling         Status = "cancelling"
	StatusCancelled          Status = "cancelled"
	StatusSucceeded          Status = "succeeded"
	StatusPartiallySucceeded Status = "partiallySucceeded"
	StatusFailed             Status = "failed"
)

// DefaultLeaseDuration is the lock_lease_duration used when a job is
// created without an explicit override.
const DefaultLeaseDuration = 5 * time.Minute

// Sentinel errors for job-service operations.
var (
	ErrJobNotFound       = errors.New("jobs: job not found")
	ErrLeaseNotAcquired  = errors.New("jobs: lease not acquired")
	ErrLeaseLost         = errors.New("jobs: lease lost")
)

// Record is a row in <graphName>_jobs.jobs.
type Record struct {
	ID                 string
	JobType            JobType
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
	FinishedAt         *time.Time
	PurgeAt            time.Time
	RequestData        json.RawMessage
	ResultData         json.RawMessage
	ErrorData          json.RawMessage
	CheckpointData     json.RawMessage
	LockAcquiredAt     *time.Time
	LockAcquiredBy     *string
	LockLeaseDuration  time.Duration
	LockHeartbeatAt    *time.Time
}

// HasExpiredLease reports whether the record's lease is either absent or
// has elapsed, as of now.
func (r *Record) HasExpiredLease(now time.Time) bool {
	if r.LockAcquiredAt == nil {
		return true
	}

	return r.LockAcquiredAt.Add(r.LockLeaseDuration).Before(now)
}
