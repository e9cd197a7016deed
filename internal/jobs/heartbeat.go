package jobs

import (
	"context"
	"log/slog"
	"time"
)

// DefaultHeartbeatInterval is how often a running job renews its lease and
// checks for a cancellation request.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat renews a job's lease on an interval and signals cancel when the
// job's status has been set to cancelling by another process.
type Heartbeat struct {
	store    *Store
	jobID    string
	instance string
	interval time.Duration
	logger   *slog.Logger
}

// NewHeartbeat builds a Heartbeat for a job already under lease.
func NewHeartbeat(store *Store, jobID, instanceID string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Heartbeat{store: store, jobID: jobID, instance: instanceID, interval: interval, logger: logger}
}

// Run renews the lease and polls status on Heartbeat's interval until ctx
// is cancelled. It calls cancel (the job-local cancellation trigger) if the
// lease is lost or the job's status becomes cancelling.
func (h *Heartbeat) Run(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.Renew(ctx, h.jobID, h.instance); err != nil {
				h.logger.Warn("job lease renewal failed, requesting cancellation",
					slog.String("job_id", h.jobID), slog.String("error", err.Error()))
				cancel()

				return
			}

			rec, err := h.store.Get(ctx, h.jobID)
			if err != nil {
				h.logger.Warn("job status check failed", slog.String("job_id", h.jobID), slog.String("error", err.Error()))
				continue
			}

			if rec.Status == StatusCancelling {
				h.logger.Info("job marked cancelling, signalling cancellation", slog.String("job_id", h.jobID))
				cancel()

				return
			}
		}
	}
}
