// Package dlq implements the dead-letter queue (C10): persistence for
// CloudEvents a resilient sink wrapper could not deliver after exhausting
// its retry budget, plus query/replay helpers for out-of-band consumers.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/cloudevents"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/storage"
)

// Status values for a dead_letter_queue row.
const (
	StatusPending  = "pending"
	StatusRetried  = "retried"
	StatusAbandoned = "abandoned"
)

// Sentinel errors for dead-letter queue operations.
var (
	ErrPersistFailed = errors.New("dlq: persist failed")
	ErrQueryFailed   = errors.New("dlq: query failed")
	ErrNotFound      = errors.New("dlq: record not found")
)

const (
	tableName  = "digitaltwins_eventing.dead_letter_queue"
	opTimeout  = 10 * time.Second
)

// Record is a row from dead_letter_queue.
type Record struct {
	ID            int64
	EventID       string
	SinkName      string
	EventType     string
	ErrorMessage  string
	AttemptCount  int
	FailedAt      time.Time
	Status        string
	CloudEvent    cloudevents.CloudEvent
}

// Store persists undeliverable CloudEvents for later inspection and replay.
type Store struct {
	conn   *storage.Connection
	logger *slog.Logger
}

// NewStore builds a Store over an existing database connection.
func NewStore(conn *storage.Connection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{conn: conn, logger: logger}
}

// Persist inserts a pending row recording a delivery failure after the
// resilient sink wrapper has exhausted its retry budget.
func (s *Store) Persist(ctx context.Context, event cloudevents.CloudEvent, sinkName string, cause error, attempts int) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: marshal cloud event: %w", ErrPersistFailed, err)
	}

	const q = `
		INSERT INTO ` + tableName + `
			(event_id, sink_name, event_type, error_message, attempt_count, status, cloud_event)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.conn.ExecContext(ctx, q, event.ID, sinkName, event.Type, cause.Error(), attempts, StatusPending, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	s.logger.Warn("event routed to dead-letter queue",
		slog.String("event_id", event.ID),
		slog.String("sink", sinkName),
		slog.Int("attempts", attempts),
		slog.String("cause", cause.Error()))

	return nil
}

// ListPending returns up to limit pending rows ordered by failed_at ascending.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const q = `
		SELECT id, event_id, sink_name, event_type, error_message, attempt_count, failed_at, status, cloud_event
		FROM ` + tableName + `
		WHERE status = $1
		ORDER BY failed_at ASC
		LIMIT $2`

	rows, err := s.conn.QueryContext(ctx, q, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()

	var records []Record

	for rows.Next() {
		var (
			rec         Record
			rawEvent    []byte
		)

		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.SinkName, &rec.EventType, &rec.ErrorMessage,
			&rec.AttemptCount, &rec.FailedAt, &rec.Status, &rawEvent); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrQueryFailed, err)
		}

		if err := json.Unmarshal(rawEvent, &rec.CloudEvent); err != nil {
			return nil, fmt.Errorf("%w: unmarshal cloud event: %w", ErrQueryFailed, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return records, nil
}

// MarkRetried transitions a row to retried, recording that an operator (or
// automation) re-drove it through a sink out of band.
func (s *Store) MarkRetried(ctx context.Context, id int64) error {
	return s.updateStatus(ctx, id, StatusRetried)
}

// MarkAbandoned transitions a row to abandoned, signalling it will not be
// retried again.
func (s *Store) MarkAbandoned(ctx context.Context, id int64) error {
	return s.updateStatus(ctx, id, StatusAbandoned)
}

func (s *Store) updateStatus(ctx context.Context, id int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const q = `UPDATE ` + tableName + ` SET status = $1 WHERE id = $2`

	res, err := s.conn.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}
