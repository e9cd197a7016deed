package jobs

import (
	"context"
	"encoding/json"
	"fmt"
)

// SaveCheckpoint writes checkpoint as the job's checkpoint_data column.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID string, checkpoint interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("jobs: marshal checkpoint for %s: %w", jobID, err)
	}

	q := fmt.Sprintf(`UPDATE %s.jobs SET checkpoint_data = $2, updated_at = now() WHERE id = $1`, quoteIdent(s.schema))

	_, err = s.conn.ExecContext(ctx, q, jobID, data)
	if err != nil {
		return fmt.Errorf("jobs: save checkpoint for %s: %w", jobID, err)
	}

	return nil
}

// LoadCheckpoint reads the job's checkpoint_data column into out. Returns
// nil (leaving out untouched) if no checkpoint has been saved yet.
func (s *Store) LoadCheckpoint(ctx context.Context, jobID string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`SELECT checkpoint_data FROM %s.jobs WHERE id = $1`, quoteIdent(s.schema))

	var raw []byte
	if err := s.conn.QueryRowContext(ctx, q, jobID).Scan(&raw); err != nil {
		return fmt.Errorf("jobs: load checkpoint for %s: %w", jobID, err)
	}

	if raw == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("jobs: unmarshal checkpoint for %s: %w", jobID, err)
	}

	return nil
}

// ClearCheckpoint nulls the job's checkpoint_data column.
func (s *Store) ClearCheckpoint(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := fmt.Sprintf(`UPDATE %s.jobs SET checkpoint_data = NULL, updated_at = now() WHERE id = $1`, quoteIdent(s.schema))

	_, err := s.conn.ExecContext(ctx, q, jobID)
	if err != nil {
		return fmt.Errorf("jobs: clear checkpoint for %s: %w", jobID, err)
	}

	return nil
}
