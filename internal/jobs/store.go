package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/storage"
)

const opTimeout = 10 * time.Second

// Store persists JobRecords and implements the distributed lease protocol
// against a per-graph schema "<graphName>_jobs".
type Store struct {
	conn      *storage.Connection
	graphName string
	schema    string
}

// NewStore builds a Store scoped to graphName. Call EnsureSchema once
// before use (the schema and table are created on demand, not via a fixed
// migration, since the schema name is a runtime parameter).
func NewStore(conn *storage.Connection, graphName string) *Store {
	return &Store{
		conn:      conn,
		graphName: graphName,
		schema:    fmt.Sprintf("%s_jobs", graphName),
	}
}

// EnsureSchema creates the graph-scoped jobs schema, table, and indexes if
// they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ddl := fmt.Sprintf(`
		CREATE SCHEMA IF NOT EXISTS %[1]s;

		CREATE TABLE IF NOT EXISTS %[1]s.jobs (
			id                    UUID PRIMARY KEY,
			job_type              TEXT NOT NULL,
			status                TEXT NOT NULL,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at           TIMESTAMPTZ,
			purge_at              TIMESTAMPTZ NOT NULL,
			request_data          JSONB,
			result_data           JSONB,
			error_data            JSONB,
			checkpoint_data       JSONB,
			lock_acquired_at      TIMESTAMPTZ,
			lock_acquired_by      TEXT,
			lock_lease_duration   INTERVAL NOT NULL DEFAULT '5 minutes',
			lock_heartbeat_at     TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS jobs_job_type_idx ON %[1]s.jobs (job_type);
		CREATE INDEX IF NOT EXISTS jobs_status_idx ON %[1]s.jobs (status);
		CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON %[1]s.jobs (created_at);
		CREATE INDEX IF NOT EXISTS jobs_purge_at_idx ON %[1]s.jobs (purge_at);
		CREATE INDEX IF NOT EXISTS jobs_lock_acquired_by_idx ON %[1]s.jobs (lock_acquired_by);
		CREATE INDEX IF NOT EXISTS jobs_lock_acquired_at_idx ON %[1]s.jobs (lock_acquired_at);
	`, quoteIdent(s.schema))

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("jobs: ensure schema %s: %w", s.schema, err)
	}

	return nil
}

// quoteIdent defends the runtime-constructed schema name against SQL
// injection: graphName is expected to already be validated as an
// identifier (alphanumeric + underscore) by the caller, but the DDL
// statement cannot use a placeholder for a schema name, so the identifier
// is quoted defensively here.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// Create inserts a new job row in notStarted status with the default lease
// duration, returning the generated id.
func (s *Store) Create(ctx context.Context, jobType JobType, requestData []byte, purgeAt time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id := uuid.NewString()

	q := fmt.Sprintf(`
		INSERT INTO %s.jobs (id, job_type, status, purge_at, request_data, lock_lease_duration)
		VALUES ($1, $2, $3, $4, $5, make_interval(secs => $6))`, quoteIdent(s.schema))

	_, err := s.conn.ExecContext(ctx, q, id, jobType, StatusNotStarted, purgeAt, requestData, DefaultLeaseDuration.Seconds())
	if err != nil {
		return "", fmt.Errorf("jobs: create job: %w", err)
	}

	return id, nil
}

// Get loads a job record by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		SELECT id, job_type, status, created_at, updated_at, finished_at, purge_at,
		       request_data, result_data, error_data, checkpoint_data,
		       lock_acquired_at, lock_acquired_by, lock_lease_duration, lock_heartbeat_at
		FROM %s.jobs WHERE id = $1`, quoteIdent(s.schema))

	row := s.conn.QueryRowContext(ctx, q, jobID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: get job %s: %w", jobID, err)
	}

	return rec, nil
}

// TryAcquire attempts to acquire the lease for jobID under instanceID. It
// succeeds if the lease is absent or expired.
func (s *Store) TryAcquire(ctx context.Context, jobID, instanceID string, lease time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s.jobs
		SET lock_acquired_at = now(), lock_acquired_by = $2, lock_lease_duration = make_interval(secs => $3),
		    lock_heartbeat_at = now(), status = $4, updated_at = now()
		WHERE id = $1
		  AND (lock_acquired_at IS NULL OR lock_acquired_at + lock_lease_duration < now())`,
		quoteIdent(s.schema))

	res, err := s.conn.ExecContext(ctx, q, jobID, instanceID, lease.Seconds(), StatusRunning)
	if err != nil {
		return fmt.Errorf("jobs: try acquire %s: %w", jobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs: try acquire %s: %w", jobID, err)
	}

	if n == 1 {
		return nil
	}

	if _, err := s.Get(ctx, jobID); err != nil {
		return err
	}

	return ErrLeaseNotAcquired
}

// Renew extends the lease for jobID, failing with ErrLeaseLost if this
// instance no longer holds it.
func (s *Store) Renew(ctx context.Context, jobID, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s.jobs
		SET lock_heartbeat_at = now(), updated_at = now()
		WHERE id = $1 AND lock_acquired_by = $2 AND lock_acquired_at + lock_lease_duration > now()`,
		quoteIdent(s.schema))

	res, err := s.conn.ExecContext(ctx, q, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("jobs: renew %s: %w", jobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs: renew %s: %w", jobID, err)
	}

	if n == 0 {
		return ErrLeaseLost
	}

	return nil
}

// Release clears the lease for jobID, only if instanceID currently holds it.
func (s *Store) Release(ctx context.Context, jobID, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s.jobs
		SET lock_acquired_at = NULL, lock_acquired_by = NULL, lock_heartbeat_at = NULL, updated_at = now()
		WHERE id = $1 AND lock_acquired_by = $2`, quoteIdent(s.schema))

	_, err := s.conn.ExecContext(ctx, q, jobID, instanceID)
	if err != nil {
		return fmt.Errorf("jobs: release %s: %w", jobID, err)
	}

	return nil
}

// CleanupExpired clears the lease columns on every row whose lease has
// expired, regardless of holder, so a crashed instance's jobs can be
// picked up again.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		UPDATE %s.jobs
		SET lock_acquired_at = NULL, lock_acquired_by = NULL, lock_heartbeat_at = NULL, updated_at = now()
		WHERE lock_acquired_at IS NOT NULL AND lock_acquired_at + lock_lease_duration < now()`,
		quoteIdent(s.schema))

	res, err := s.conn.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("jobs: cleanup expired: %w", err)
	}

	return res.RowsAffected()
}

// GetJobsToResume returns running jobs with no active lease, ordered by
// creation time, so a newly started instance can pick up abandoned work.
func (s *Store) GetJobsToResume(ctx context.Context) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`
		SELECT id, job_type, status, created_at, updated_at, finished_at, purge_at,
		       request_data, result_data, error_data, checkpoint_data,
		       lock_acquired_at, lock_acquired_by, lock_lease_duration, lock_heartbeat_at
		FROM %s.jobs
		WHERE status = $1 AND (lock_acquired_at IS NULL OR lock_acquired_at + lock_lease_duration < now())
		ORDER BY created_at ASC`, quoteIdent(s.schema))

	rows, err := s.conn.QueryContext(ctx, q, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("jobs: get jobs to resume: %w", err)
	}
	defer rows.Close()

	var records []*Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: scan job to resume: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SetStatus updates status, result, and error data, stamping finished_at
// when the status is terminal.
func (s *Store) SetStatus(ctx context.Context, jobID string, status Status, resultData, errorData []byte) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var finishedAt interface{}
	if isTerminal(status) {
		finishedAt = time.Now().UTC()
	}

	q := fmt.Sprintf(`
		UPDATE %s.jobs
		SET status = $2, result_data = $3, error_data = $4, finished_at = $5, updated_at = now()
		WHERE id = $1`, quoteIdent(s.schema))

	_, err := s.conn.ExecContext(ctx, q, jobID, status, resultData, errorData, finishedAt)
	if err != nil {
		return fmt.Errorf("jobs: set status %s: %w", jobID, err)
	}

	return nil
}

func isTerminal(status Status) bool {
	switch status {
	case StatusCancelled, StatusSucceeded, StatusPartiallySucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record

	if err := row.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt, &rec.FinishedAt,
		&rec.PurgeAt, &rec.RequestData, &rec.ResultData, &rec.ErrorData, &rec.CheckpointData,
		&rec.LockAcquiredAt, &rec.LockAcquiredBy, &rec.LockLeaseDuration, &rec.LockHeartbeatAt); err != nil {
		return nil, err
	}

	return &rec, nil
}
