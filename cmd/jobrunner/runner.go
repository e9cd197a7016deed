package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs/deletejob"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs/importjob"
)

// pollOnce discovers abandoned running jobs via getJobsToResume and drives
// each one to completion (or back to a non-fatal halt) sequentially.
// Sequential processing keeps one jobrunner instance's lease-renewal
// traffic bounded; horizontal scaling is achieved by running more
// instances, each racing tryAcquire for the same job set.
func (r *runner) pollOnce(ctx context.Context) {
	records, err := r.jobStore.GetJobsToResume(ctx)
	if err != nil {
		r.logger.Error("failed to list jobs to resume", slog.String("error", err.Error()))
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		r.runJob(ctx, rec)
	}
}

func (r *runner) runJob(ctx context.Context, rec *jobs.Record) {
	logger := r.logger.With(slog.String("job_id", rec.ID), slog.String("job_type", string(rec.JobType)))

	if r.twinStore == nil {
		logger.Debug("skipping job, no TwinStore configured on this instance")
		return
	}

	if err := r.jobStore.TryAcquire(ctx, rec.ID, r.instanceID, r.cfg.LeaseDuration); err != nil {
		logger.Info("could not acquire job lease, leaving to another instance", slog.String("error", err.Error()))
		return
	}

	defer func() {
		if err := r.jobStore.Release(ctx, rec.ID, r.instanceID); err != nil {
			logger.Warn("failed to release job lease", slog.String("error", err.Error()))
		}
	}()

	switch rec.JobType {
	case jobs.JobTypeImport:
		r.runImport(ctx, rec, logger)
	case jobs.JobTypeDelete:
		r.runDelete(ctx, rec, logger)
	default:
		logger.Error("unknown job type, skipping")
	}
}

func (r *runner) runImport(ctx context.Context, rec *jobs.Record, logger *slog.Logger) {
	var req importRequest
	if err := json.Unmarshal(rec.RequestData, &req); err != nil {
		logger.Error("failed to parse import job request data", slog.String("error", err.Error()))
		return
	}

	engine := importjob.New(importjob.Options{
		JobStore:           r.jobStore,
		TwinStore:          r.twinStore,
		JobID:              rec.ID,
		InstanceID:         r.instanceID,
		Open:               func() (io.Reader, error) { return openSource(req.SourceURL) },
		BatchSize:          r.cfg.ImportBatchSize,
		HeartbeatInterval:  r.cfg.HeartbeatInterval,
		Logger:             logger,
	})

	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("import job ended with error", slog.String("error", err.Error()))
		return
	}

	logger.Info("import job finished",
		slog.String("status", string(result.Status)),
		slog.Int("models_created", result.ModelsCreated),
		slog.Int("twins_created", result.TwinsCreated),
		slog.Int("relationships_created", result.RelationshipsCreated),
		slog.Int("error_count", result.ErrorCount))
}

func (r *runner) runDelete(ctx context.Context, rec *jobs.Record, logger *slog.Logger) {
	engine := deletejob.New(deletejob.Options{
		JobStore:          r.jobStore,
		TwinStore:         r.twinStore,
		JobID:             rec.ID,
		InstanceID:        r.instanceID,
		BatchSize:         r.cfg.DeleteBatchSize,
		HeartbeatInterval: r.cfg.HeartbeatInterval,
		Logger:            logger,
	})

	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("delete job ended with error", slog.String("error", err.Error()))
		return
	}

	logger.Info("delete job finished",
		slog.String("status", string(result.Status)),
		slog.Int("relationships_deleted", result.RelationshipsDeleted),
		slog.Int("twins_deleted", result.TwinsDeleted),
		slog.Int("models_deleted", result.ModelsDeleted),
		slog.Int("error_count", result.ErrorCount))
}
