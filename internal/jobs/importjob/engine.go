package importjob

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/konnektr-io/digitaltwins-eventrouter/internal/jobs"
	"github.com/konnektr-io/digitaltwins-eventrouter/internal/twinstore"
)

const (
	defaultBatchSize         = 50
	defaultCheckpointInterval = 50
	reconnectDelay           = 60 * time.Second
	requiredFileVersion      = "1.0.0"

	maxLineSize = 4 << 20
)

// Options configures one run of the import engine against a single job.
type Options struct {
	JobStore   *jobs.Store
	TwinStore  twinstore.Store
	JobID      string
	InstanceID string

	// Open returns a fresh reader positioned at the start of the ND-JSON
	// stream. It is called once; resume is implemented by scanning past
	// already-processed lines, not by reopening mid-stream.
	Open func() (io.Reader, error)

	BatchSize          int
	CheckpointInterval int
	HeartbeatInterval  time.Duration
	Logger             *slog.Logger
}

// Result summarizes a completed (or terminated) import run.
type Result struct {
	ModelsCreated        int
	TwinsCreated         int
	RelationshipsCreated int
	ErrorCount           int
	Status               jobs.Status
}

// Engine runs one import job to completion, resumption, or a non-fatal
// connectivity halt.
type Engine struct {
	opts Options
	cp   *Checkpoint

	twinBatch []string
	relBatch  []string
}

// New builds an import Engine, applying defaults for unset Options.
func New(opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = defaultCheckpointInterval
	}

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = jobs.DefaultHeartbeatInterval
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{opts: opts}
}

// Run drives the import to one of its terminal states. It returns
// ErrDatabaseConnectivity without finalizing the job (it stays running), and
// ErrValidation after marking the job failed.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cp := newCheckpoint(e.opts.JobID)
	if err := e.opts.JobStore.LoadCheckpoint(ctx, e.opts.JobID, cp); err != nil {
		return nil, fmt.Errorf("importjob: load checkpoint: %w", err)
	}

	e.cp = cp

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hb := jobs.NewHeartbeat(e.opts.JobStore, e.opts.JobID, e.opts.InstanceID, e.opts.HeartbeatInterval, e.opts.Logger)
	go hb.Run(runCtx, cancel)

	reader, err := e.opts.Open()
	if err != nil {
		return nil, fmt.Errorf("importjob: open input: %w", err)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	cancelled := false

	for scanner.Scan() {
		lineNum++

		if runCtx.Err() != nil {
			cancelled = true

			break
		}

		if lineNum <= e.cp.LineNumber {
			continue
		}

		line := scanner.Text()

		if err := e.ensureConnection(runCtx); err != nil {
			return nil, err
		}

		// Set before processLine so a checkpoint saved by a batch flush
		// covers the line that triggered it.
		e.cp.LineNumber = lineNum

		if err := e.processLine(runCtx, line); err != nil {
			if errors.Is(err, ErrValidation) {
				return nil, e.finalize(ctx, jobs.StatusFailed, err)
			}

			e.cp.ErrorCount++
			e.opts.Logger.Warn("importjob: line processing error",
				slog.String("job_id", e.opts.JobID), slog.Int("line", lineNum), slog.String("error", err.Error()))
		}

		// A periodic checkpoint is skipped while twin or relationship lines
		// are buffered, so a saved line number never covers unsent lines.
		if lineNum%e.opts.CheckpointInterval == 0 && len(e.twinBatch) == 0 && len(e.relBatch) == 0 {
			if err := e.saveCheckpoint(runCtx); err != nil {
				return nil, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("importjob: read input: %w", err)
	}

	if !cancelled {
		if err := e.flushSection(runCtx, e.cp.CurrentSection); err != nil {
			e.cp.ErrorCount++
			e.opts.Logger.Warn("importjob: final flush error",
				slog.String("job_id", e.opts.JobID), slog.String("error", err.Error()))
		}
	}

	if cancelled {
		return e.finalizeResult(ctx, jobs.StatusCancelled, false)
	}

	switch {
	case e.cp.ErrorCount > 0 && !e.cp.itemsCreated():
		return e.finalizeResult(ctx, jobs.StatusFailed, false)
	case e.cp.ErrorCount > 0:
		return e.finalizeResult(ctx, jobs.StatusPartiallySucceeded, false)
	default:
		return e.finalizeResult(ctx, jobs.StatusSucceeded, true)
	}
}

// ensureConnection verifies the store connection before processing a line,
// attempting one reopen after a delay. A persistent failure is reported as
// ErrDatabaseConnectivity without altering the job's status, so the job
// stays running for another instance to resume.
func (e *Engine) ensureConnection(ctx context.Context) error {
	if err := e.opts.TwinStore.Ping(ctx); err == nil {
		return nil
	}

	e.opts.Logger.Warn("importjob: store connection unavailable, waiting to reopen",
		slog.String("job_id", e.opts.JobID), slog.Duration("delay", reconnectDelay))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reconnectDelay):
	}

	if err := e.opts.TwinStore.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseConnectivity, err)
	}

	return nil
}

func (e *Engine) processLine(ctx context.Context, line string) error {
	var marker struct {
		Section *string `json:"Section"`
	}

	if err := json.Unmarshal([]byte(line), &marker); err == nil && marker.Section != nil {
		return e.transitionSection(ctx, Section(*marker.Section))
	}

	switch e.cp.CurrentSection {
	case SectionNone:
		return fmt.Errorf("%w: data line before Header section", ErrValidation)
	case SectionHeader:
		var header struct {
			FileVersion string `json:"fileVersion"`
		}

		if err := json.Unmarshal([]byte(line), &header); err != nil {
			return fmt.Errorf("%w: malformed header: %v", ErrValidation, err)
		}

		if header.FileVersion != requiredFileVersion {
			return fmt.Errorf("%w: unsupported fileVersion %q", ErrValidation, header.FileVersion)
		}

		return nil
	case SectionModels:
		e.cp.PendingModels = append(e.cp.PendingModels, line)

		return nil
	case SectionTwins:
		e.twinBatch = append(e.twinBatch, line)

		if len(e.twinBatch) >= e.opts.BatchSize {
			return e.flushTwins(ctx, false)
		}

		return nil
	case SectionRelationships:
		e.relBatch = append(e.relBatch, line)

		if len(e.relBatch) >= e.opts.BatchSize {
			return e.flushRelationships(ctx, false)
		}

		return nil
	default:
		return fmt.Errorf("%w: data line in section %s", ErrValidation, e.cp.CurrentSection)
	}
}

// transitionSection validates the fixed section order, flushes the section
// being left, and saves a checkpoint at the boundary.
func (e *Engine) transitionSection(ctx context.Context, next Section) error {
	order := map[Section]int{
		SectionNone: 0, SectionHeader: 1, SectionModels: 2, SectionTwins: 3, SectionRelationships: 4,
	}

	if order[next] <= order[e.cp.CurrentSection] {
		return fmt.Errorf("%w: %s after %s", ErrUnexpectedSection, next, e.cp.CurrentSection)
	}

	if err := e.flushSection(ctx, e.cp.CurrentSection); err != nil {
		return err
	}

	e.cp.CurrentSection = next

	return e.saveCheckpoint(ctx)
}

func (e *Engine) flushSection(ctx context.Context, section Section) error {
	switch section {
	case SectionModels:
		return e.flushModels(ctx)
	case SectionTwins:
		return e.flushTwins(ctx, true)
	case SectionRelationships:
		return e.flushRelationships(ctx, true)
	default:
		return nil
	}
}

func (e *Engine) flushModels(ctx context.Context) error {
	if len(e.cp.PendingModels) == 0 {
		e.cp.ModelsCompleted = true

		return nil
	}

	raw := make([][]byte, len(e.cp.PendingModels))
	for i, m := range e.cp.PendingModels {
		raw[i] = []byte(m)
	}

	if err := e.opts.TwinStore.CreateModels(ctx, raw); err != nil {
		return fmt.Errorf("importjob: create models: %w", err)
	}

	e.cp.ModelsProcessed += len(raw)
	e.cp.PendingModels = nil
	e.cp.ModelsCompleted = true

	return nil
}

func (e *Engine) flushTwins(ctx context.Context, final bool) error {
	if len(e.twinBatch) == 0 {
		if final {
			e.cp.TwinsCompleted = true
		}

		return nil
	}

	raw := make([][]byte, len(e.twinBatch))
	for i, t := range e.twinBatch {
		raw[i] = []byte(t)
	}

	if err := e.opts.TwinStore.CreateOrReplaceTwinsBatch(ctx, raw); err != nil {
		return fmt.Errorf("importjob: create twins batch: %w", err)
	}

	e.cp.TwinsProcessed += len(raw)
	e.twinBatch = nil

	if final {
		e.cp.TwinsCompleted = true
	}

	return e.saveCheckpoint(ctx)
}

func (e *Engine) flushRelationships(ctx context.Context, final bool) error {
	if len(e.relBatch) == 0 {
		if final {
			e.cp.RelationshipsCompleted = true
		}

		return nil
	}

	raw := make([][]byte, len(e.relBatch))
	for i, r := range e.relBatch {
		raw[i] = []byte(r)
	}

	if err := e.opts.TwinStore.CreateOrReplaceRelationshipsBatch(ctx, raw); err != nil {
		return fmt.Errorf("importjob: create relationships batch: %w", err)
	}

	e.cp.RelationshipsProcessed += len(raw)
	e.relBatch = nil

	if final {
		e.cp.RelationshipsCompleted = true
	}

	return e.saveCheckpoint(ctx)
}

func (e *Engine) saveCheckpoint(ctx context.Context) error {
	if err := e.opts.JobStore.SaveCheckpoint(ctx, e.opts.JobID, e.cp); err != nil {
		return fmt.Errorf("importjob: save checkpoint: %w", err)
	}

	return nil
}

// finalize persists a terminal failed status for a fatal validation error
// and returns the triggering error to the caller.
func (e *Engine) finalize(ctx context.Context, status jobs.Status, cause error) error {
	errData, _ := json.Marshal(map[string]string{"error": cause.Error()})

	if err := e.opts.JobStore.SetStatus(ctx, e.opts.JobID, status, nil, errData); err != nil {
		e.opts.Logger.Error("importjob: set terminal status failed",
			slog.String("job_id", e.opts.JobID), slog.String("error", err.Error()))
	}

	return cause
}

func (e *Engine) finalizeResult(parent context.Context, status jobs.Status, clearCheckpoint bool) (*Result, error) {
	// Terminal bookkeeping must still be attempted after the run context
	// (derived from parent) has been cancelled.
	ctx := context.WithoutCancel(parent)

	var errData []byte
	if e.cp.ErrorCount > 0 {
		errData, _ = json.Marshal(map[string]int{"errorCount": e.cp.ErrorCount})
	}

	resultData, _ := json.Marshal(map[string]int{
		"modelsCreated":        e.cp.ModelsProcessed,
		"twinsCreated":         e.cp.TwinsProcessed,
		"relationshipsCreated": e.cp.RelationshipsProcessed,
		"errorCount":           e.cp.ErrorCount,
	})

	if err := e.opts.JobStore.SetStatus(ctx, e.opts.JobID, status, resultData, errData); err != nil {
		return nil, fmt.Errorf("importjob: set final status: %w", err)
	}

	if clearCheckpoint {
		if err := e.opts.JobStore.ClearCheckpoint(ctx, e.opts.JobID); err != nil {
			e.opts.Logger.Warn("importjob: clear checkpoint failed",
				slog.String("job_id", e.opts.JobID), slog.String("error", err.Error()))
		}
	} else {
		_ = e.saveCheckpoint(ctx)
	}

	return &Result{
		ModelsCreated:        e.cp.ModelsProcessed,
		TwinsCreated:         e.cp.TwinsProcessed,
		RelationshipsCreated: e.cp.RelationshipsProcessed,
		ErrorCount:           e.cp.ErrorCount,
		Status:               status,
	}, nil
}
