// Package orchestrator implements run(conv, overrides) (spec §4.10): the
// per-conversation, idempotent ATO->SEM->CLU->MEMA pipeline run, with
// cooperative cancellation and a state machine tracked on the job record.
// It plays the same coordinating role the teacher's pkg/queue executor
// plays over its agent chain — sequential, fail-fast stages, structured
// logging with slog.With, a typed result returned to the caller instead
// of panicking or printing.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/config"
	"github.com/transrapport/engine/internal/detector"
	"github.com/transrapport/engine/internal/engine"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/store"
)

// DefaultBatchSize is the store flush granularity used when overrides does
// not specify one.
const DefaultBatchSize = 200

// Overrides is the closed set of per-run parameters spec §4.10 recognizes.
type Overrides struct {
	WindowSEM string // activation rule applied as default to SEMs lacking one
	WindowCLU string // same, for CLUs
	Seed      int64  // reserved for a future stochastic detector; unused today
	BatchSize int    // store flush granularity; <=0 uses DefaultBatchSize
}

// Counts reports how many events each level produced.
type Counts struct {
	ATO  int `json:"ato"`
	SEM  int `json:"sem"`
	CLU  int `json:"clu"`
	MEMA int `json:"mema"`
}

// Summary is the result of a completed run.
type Summary struct {
	OK         bool   `json:"ok"`
	Counts     Counts `json:"counts"`
	TraceID    string `json:"trace_id"`
	DurationMS int64  `json:"duration_ms"`
}

// Orchestrator runs the four level-engines against a conv's job and
// catalog, in order, against a shared store.
type Orchestrator struct {
	store    *store.Store
	catalog  map[string]markerdef.Definition
	logger   *slog.Logger
	defaults config.Defaults
}

// New builds an Orchestrator over st and catalog (the in-memory set of
// validated, enabled definitions produced by internal/markers.LoadDir).
// defaults supplies the per-class activation-rule fallback (schemas/
// defaults.yaml, internal/config.Load) used for any SEM/MEMA that a run
// override does not also cover; the zero value resolves to the engine's
// own compiled-in constants (internal/engine.DefaultSEMRule /
// DefaultMEMARule) since config.Load never returns an empty Defaults.
func New(st *store.Store, catalog map[string]markerdef.Definition, logger *slog.Logger, defaults config.Defaults) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: st, catalog: catalog, logger: logger, defaults: defaults}
}

// Run executes the pipeline for conv: load job, clear_runtime, chunk the
// job's source text, then ATO -> SEM -> CLU -> MEMA in order, flushing each
// level's events to the store in overrides.BatchSize batches. It honors
// ctx cancellation at each batch flush (spec §5's only suspension points
// besides file reads) and leaves the store clean on either failure or
// cancellation (spec §4.10: "a failure mid-run rolls back that run's
// writes"; a CancelledError "left no observable partial events").
func (o *Orchestrator) Run(ctx context.Context, conv string, overrides Overrides) (Summary, error) {
	logger := o.logger.With("conv", conv, "component", "orchestrator")
	start := time.Now()

	job, err := o.store.GetJob(conv)
	if err != nil {
		logger.Error("job lookup failed", "error", err)
		return Summary{}, err
	}

	if err := o.store.ClearRuntime(conv); err != nil {
		logger.Error("clear_runtime failed", "error", err)
		return Summary{}, err
	}
	if err := o.store.SetJobStatus(conv, store.JobCleared, time.Time{}, ""); err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, &engineerr.CancelledError{Conv: conv}
	}

	if err := o.store.SetJobStatus(conv, store.JobRunning, time.Now().UTC(), ""); err != nil {
		return Summary{}, err
	}
	logger.Info("run starting", "source", job.SourcePath)

	counts, runErr := o.runLevels(ctx, conv, job, overrides, logger)
	if runErr != nil {
		if cancelled := o.abort(conv, runErr, logger); cancelled != nil {
			return Summary{}, cancelled
		}
		return Summary{}, runErr
	}

	if err := o.store.SetJobStatus(conv, store.JobComplete, time.Now().UTC(), ""); err != nil {
		return Summary{}, err
	}
	logger.Info("run complete", "counts", counts)

	return Summary{
		OK:         true,
		Counts:     counts,
		TraceID:    conv,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// runLevels builds the four level-engines from o.catalog and runs them in
// dependency order, appending each level's events before the next level
// starts (the level barrier spec §5 requires: "an event at level L+1 may
// only be produced after all level-L events within its window have been
// emitted").
func (o *Orchestrator) runLevels(ctx context.Context, conv string, job store.Job, overrides Overrides, logger *slog.Logger) (Counts, error) {
	text, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return Counts{}, &engineerr.EngineError{Kind: engineerr.EngineInternal, Detail: fmt.Sprintf("reading source %s: %v", job.SourcePath, err)}
	}
	msgs := chunk.Messages(string(text), job.CreatedAt)

	atoDefs, semDefs, cluDefs, memaDefs := partitionByClass(o.catalog)
	batchSize := overrides.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	atoEng, err := engine.NewATOEngine(atoDefs)
	if err != nil {
		return Counts{}, err
	}
	atoEvents, err := atoEng.Run(conv, msgs)
	if err != nil {
		return Counts{}, err
	}
	if err := o.flush(ctx, store.LevelATO, conv, atoEvents, batchSize); err != nil {
		return Counts{}, err
	}
	logger.Debug("ATO level complete", "events", len(atoEvents))

	semRule := overrides.WindowSEM
	if semRule == "" {
		semRule = o.defaults.SEM.Rule
	}
	semEng, err := engine.NewSEMEngine(semDefs, semRule)
	if err != nil {
		return Counts{}, err
	}
	semEvents, err := semEng.Run(conv, msgs, atoEvents)
	if err != nil {
		return Counts{}, err
	}
	if err := o.flush(ctx, store.LevelSEM, conv, semEvents, batchSize); err != nil {
		return Counts{}, err
	}
	logger.Debug("SEM level complete", "events", len(semEvents))

	cluEng, err := engine.NewCLUEngine(cluDefs, overrides.WindowCLU)
	if err != nil {
		return Counts{}, err
	}
	cluEvents, err := cluEng.Run(conv, msgs, semEvents)
	if err != nil {
		return Counts{}, err
	}
	if err := o.flush(ctx, store.LevelCLU, conv, cluEvents, batchSize); err != nil {
		return Counts{}, err
	}
	logger.Debug("CLU level complete", "events", len(cluEvents))

	memaEng, err := engine.NewMEMAEngine(memaDefs, o.defaults.MEMA.Rule)
	if err != nil {
		return Counts{}, err
	}
	memaEvents, err := memaEng.Run(conv, msgs, cluEvents, detector.Catalog(o.catalog))
	if err != nil {
		return Counts{}, err
	}
	if err := o.flush(ctx, store.LevelMEMA, conv, memaEvents, batchSize); err != nil {
		return Counts{}, err
	}
	logger.Debug("MEMA level complete", "events", len(memaEvents))

	return Counts{ATO: len(atoEvents), SEM: len(semEvents), CLU: len(cluEvents), MEMA: len(memaEvents)}, nil
}

// flush writes events to level in batchSize-sized chunks, checking ctx
// before each one. An empty events slice still needs zero flushes.
func (o *Orchestrator) flush(ctx context.Context, level store.Level, conv string, events []store.Event, batchSize int) error {
	for i := 0; i < len(events); i += batchSize {
		if err := ctx.Err(); err != nil {
			return &engineerr.CancelledError{Conv: conv}
		}
		end := i + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := o.store.AppendEvents(level, conv, events[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// abort reconciles job status after runErr. A CancelledError leaves the
// conv "cleared" (no observable partial events) per spec §5; any other
// error marks the job "failed" with the error recorded. Both paths
// re-clear runtime so a subsequent rerun starts from a clean store
// regardless of how far this run got (spec §4.10's minimum rollback
// guarantee). Returns runErr re-typed as *engineerr.CancelledError when
// that's what happened, or nil otherwise — the caller always returns the
// original runErr except in that case, where it returns this one verbatim.
func (o *Orchestrator) abort(conv string, runErr error, logger *slog.Logger) *engineerr.CancelledError {
	if clearErr := o.store.ClearRuntime(conv); clearErr != nil {
		logger.Error("clear_runtime during abort failed", "error", clearErr)
	}

	if ce, ok := runErr.(*engineerr.CancelledError); ok {
		if err := o.store.SetJobStatus(conv, store.JobCleared, time.Time{}, ""); err != nil {
			logger.Error("set_job_status during cancel abort failed", "error", err)
		}
		logger.Warn("run cancelled", "conv", conv)
		return ce
	}

	if err := o.store.SetJobStatus(conv, store.JobFailed, time.Time{}, runErr.Error()); err != nil {
		logger.Error("set_job_status during failure abort failed", "error", err)
	}
	logger.Error("run failed", "error", runErr)
	return nil
}

// partitionByClass splits catalog's definitions into the four per-class
// slices the level-engines consume, mirroring the tagged-variant-over-
// class-layering shape spec §9 describes.
func partitionByClass(catalog map[string]markerdef.Definition) (ato, sem, clu, mema []markerdef.Definition) {
	for _, def := range catalog {
		switch def.Class {
		case markerdef.ClassATO:
			ato = append(ato, def)
		case markerdef.ClassSEM:
			sem = append(sem, def)
		case markerdef.ClassCLU:
			clu = append(clu, def)
		case markerdef.ClassMEMA:
			mema = append(mema, def)
		}
	}
	return
}
