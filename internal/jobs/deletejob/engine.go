package deletejob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/twinstore"
)

const defaultBatchSize = 50

// Options configures one run of the delete engine against a single job.
type Options struct {
	JobStore   *jobs.Store
	TwinStore  twinstore.Store
	JobID      string
	InstanceID string

	BatchSize         int
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

// Result summarizes a completed (or terminated) delete run.
type Result struct {
	RelationshipsDeleted int
	TwinsDeleted         int
	ModelsDeleted        int
	ErrorCount           int
	Status               jobs.Status
}

// Engine drains relationships, then twins, then models, checkpointing
// between phases.
type Engine struct {
	opts Options
	cp   *Checkpoint
}

// New builds a delete Engine, applying defaults for unset Options.
func New(opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = jobs.DefaultHeartbeatInterval
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{opts: opts}
}

// Run drives the delete job through its three phases to a terminal status.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cp := newCheckpoint(e.opts.JobID)
	if err := e.opts.JobStore.LoadCheckpoint(ctx, e.opts.JobID, cp); err != nil {
		return nil, fmt.Errorf("deletejob: load checkpoint: %w", err)
	}

	e.cp = cp

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hb := jobs.NewHeartbeat(e.opts.JobStore, e.opts.JobID, e.opts.InstanceID, e.opts.HeartbeatInterval, e.opts.Logger)
	go hb.Run(runCtx, cancel)

	cancelled := e.drain(runCtx)

	if cancelled {
		return e.finalizeResult(ctx, jobs.StatusCancelled, false)
	}

	switch {
	case e.cp.ErrorCount > 0 && !e.cp.itemsDeleted():
		return e.finalizeResult(ctx, jobs.StatusFailed, false)
	case e.cp.ErrorCount > 0:
		return e.finalizeResult(ctx, jobs.StatusPartiallySucceeded, false)
	default:
		return e.finalizeResult(ctx, jobs.StatusSucceeded, true)
	}
}

// drain runs each phase in fixed order until all are complete, ctx is
// cancelled, or a batch fails (which stops the drain without cancellation),
// reporting whether it stopped due to cancellation.
func (e *Engine) drain(ctx context.Context) bool {
	phases := []Phase{PhaseRelationships, PhaseTwins, PhaseModels}

	for _, phase := range phases {
		if e.phaseCompleted(phase) {
			continue
		}

		e.cp.CurrentPhase = phase

		for {
			if ctx.Err() != nil {
				return true
			}

			done, err := e.drainBatch(ctx, phase)
			if err != nil {
				e.cp.ErrorCount++
				e.opts.Logger.Error("deletejob: batch failed",
					slog.String("job_id", e.opts.JobID), slog.String("phase", string(phase)), slog.String("error", err.Error()))

				return false
			}

			if done {
				break
			}
		}

		e.markCompleted(phase)

		if err := e.saveCheckpoint(ctx); err != nil {
			e.opts.Logger.Error("deletejob: checkpoint save failed",
				slog.String("job_id", e.opts.JobID), slog.String("error", err.Error()))
		}
	}

	e.cp.CurrentPhase = PhaseCompleted

	return false
}

// drainBatch processes one batch of the given phase, returning done=true
// once the underlying collection is exhausted.
func (e *Engine) drainBatch(ctx context.Context, phase Phase) (bool, error) {
	switch phase {
	case PhaseRelationships:
		ids, err := e.opts.TwinStore.ListRelationships(ctx, e.opts.BatchSize)
		if err != nil {
			return false, fmt.Errorf("deletejob: list relationships: %w", err)
		}

		if len(ids) == 0 {
			return true, nil
		}

		for _, id := range ids {
			if err := e.opts.TwinStore.DeleteRelationship(ctx, id); err != nil {
				e.cp.ErrorCount++
				e.opts.Logger.Warn("deletejob: delete relationship failed",
					slog.String("job_id", e.opts.JobID), slog.String("id", id), slog.String("error", err.Error()))

				continue
			}

			e.cp.RelationshipsDeleted++
		}
	case PhaseTwins:
		ids, err := e.opts.TwinStore.ListTwins(ctx, e.opts.BatchSize)
		if err != nil {
			return false, fmt.Errorf("deletejob: list twins: %w", err)
		}

		if len(ids) == 0 {
			return true, nil
		}

		for _, id := range ids {
			if err := e.opts.TwinStore.DeleteTwin(ctx, id); err != nil {
				e.cp.ErrorCount++
				e.opts.Logger.Warn("deletejob: delete twin failed",
					slog.String("job_id", e.opts.JobID), slog.String("id", id), slog.String("error", err.Error()))

				continue
			}

			e.cp.TwinsDeleted++
		}
	case PhaseModels:
		ids, err := e.opts.TwinStore.ListModels(ctx, e.opts.BatchSize)
		if err != nil {
			return false, fmt.Errorf("deletejob: list models: %w", err)
		}

		if len(ids) == 0 {
			return true, nil
		}

		for _, id := range ids {
			if err := e.opts.TwinStore.DeleteModel(ctx, id); err != nil {
				e.cp.ErrorCount++
				e.opts.Logger.Warn("deletejob: delete model failed",
					slog.String("job_id", e.opts.JobID), slog.String("id", id), slog.String("error", err.Error()))

				continue
			}

			e.cp.ModelsDeleted++
		}
	}

	return false, e.saveCheckpoint(ctx)
}

func (e *Engine) phaseCompleted(phase Phase) bool {
	switch phase {
	case PhaseRelationships:
		return e.cp.RelationshipsCompleted
	case PhaseTwins:
		return e.cp.TwinsCompleted
	case PhaseModels:
		return e.cp.ModelsCompleted
	default:
		return true
	}
}

func (e *Engine) markCompleted(phase Phase) {
	switch phase {
	case PhaseRelationships:
		e.cp.RelationshipsCompleted = true
	case PhaseTwins:
		e.cp.TwinsCompleted = true
	case PhaseModels:
		e.cp.ModelsCompleted = true
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context) error {
	if err := e.opts.JobStore.SaveCheckpoint(ctx, e.opts.JobID, e.cp); err != nil {
		return fmt.Errorf("deletejob: save checkpoint: %w", err)
	}

	return nil
}

func (e *Engine) finalizeResult(parent context.Context, status jobs.Status, clearCheckpoint bool) (*Result, error) {
	ctx := context.WithoutCancel(parent)

	var errData []byte
	if e.cp.ErrorCount > 0 {
		errData, _ = json.Marshal(map[string]int{"errorCount": e.cp.ErrorCount})
	}

	resultData, _ := json.Marshal(map[string]int{
		"relationshipsDeleted": e.cp.RelationshipsDeleted,
		"twinsDeleted":         e.cp.TwinsDeleted,
		"modelsDeleted":        e.cp.ModelsDeleted,
		"errorCount":           e.cp.ErrorCount,
	})

	if err := e.opts.JobStore.SetStatus(ctx, e.opts.JobID, status, resultData, errData); err != nil {
		return nil, fmt.Errorf("deletejob: set final status: %w", err)
	}

	if clearCheckpoint {
		if err := e.opts.JobStore.ClearCheckpoint(ctx, e.opts.JobID); err != nil {
			e.opts.Logger.Warn("deletejob: clear checkpoint failed",
				slog.String("job_id", e.opts.JobID), slog.String("error", err.Error()))
		}
	}

	return &Result{
		RelationshipsDeleted: e.cp.RelationshipsDeleted,
		TwinsDeleted:         e.cp.TwinsDeleted,
		ModelsDeleted:        e.cp.ModelsDeleted,
		ErrorCount:           e.cp.ErrorCount,
		Status:               status,
	}, nil
}
