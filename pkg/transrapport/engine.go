// Package transrapport is the marker engine's public programmatic contract
// (spec §6.1): the seven closed-set operations a caller — including the
// thin cmd/transrapport CLI adapter — uses to load definitions, create
// jobs, run the pipeline, and read back or export results. Everything else
// in this module is internal/ and unreachable from outside it, the same
// boundary the teacher draws around its ent-adjacent wiring with
// pkg/services sitting in front of HTTP handlers.
package transrapport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transrapport/engine/internal/config"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/export"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/markers"
	"github.com/transrapport/engine/internal/orchestrator"
	"github.com/transrapport/engine/internal/store"
)

// Overrides is run.scan's closed set of per-run parameters (spec §4.10),
// re-exported verbatim from internal/orchestrator.
type Overrides = orchestrator.Overrides

// Engine is the root handle for one <root>/ directory (spec §6.2): it owns
// the SQLite store at <root>/runtime and the in-memory catalog of the last
// successful markers.load. It is safe for concurrent use by multiple
// goroutines driving independent convs; the store itself serializes writes
// (internal/store.Store), and catalog access is guarded here.
type Engine struct {
	root     string
	store    *store.Store
	logger   *slog.Logger
	defaults config.Defaults

	mu      sync.RWMutex
	catalog map[string]markerdef.Definition
}

// Open creates (or opens) the SQLite store at <root>/runtime/engine.db and
// returns a ready Engine with an empty catalog; call Load before the first
// run.scan. logger may be nil, in which case slog.Default() is used. It
// also resolves <root>/schemas/defaults.yaml (spec §6.2) via
// internal/config.Load; a missing file is not an error, the engine's
// built-in per-class rule defaults apply instead.
func Open(root string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runtimeDir := filepath.Join(root, "runtime")
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, &engineerr.StorageError{Kind: engineerr.StorageIO, Op: "create runtime dir", Err: err}
	}
	dbPath := filepath.Join(runtimeDir, "engine.db")
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return nil, err
	}
	defaults, err := config.Load(filepath.Join(root, "schemas", "defaults.yaml"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Engine{root: root, store: st, logger: logger, defaults: defaults, catalog: map[string]markerdef.Definition{}}, nil
}

// Close releases the underlying store connection.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Load implements markers.load: walk markersDir's atomic/semantic/
// cluster/meta subdirectories, validate, register, and replace the
// in-memory catalog with what loaded successfully. A marker that fails to
// parse or validate is skipped and reported in the result, not fatal to
// the rest of the load (spec §4.2).
func (e *Engine) Load(markersDir string) (LoadResult, error) {
	catalog, summary := markers.LoadDir(markersDir, e.store, e.logger)

	e.mu.Lock()
	e.catalog = catalog
	e.mu.Unlock()

	errs := make([]string, 0, len(summary.Errors))
	for _, err := range summary.Errors {
		errs = append(errs, err.Error())
	}
	return LoadResult{Loaded: summary.Loaded, Errors: errs}, nil
}

// Validate implements markers.validate(strict=true): re-run every
// validation rule over the currently loaded catalog. Strict is the
// validator's only mode (spec §4.3), so the parameter exists to document
// the contract's shape rather than to select behavior.
func (e *Engine) Validate(strict bool) (ValidateResult, error) {
	_ = strict
	e.mu.RLock()
	catalog := e.catalog
	e.mu.RUnlock()

	violations := markers.ValidateAll(catalog)
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Error())
	}
	return ValidateResult{OK: len(violations) == 0, Violations: out}, nil
}

// CreateJob implements job.create: register a new {conv, source_kind,
// source_path, chunksize, overlap} job (spec §3). chunksize/overlap of 0
// fall back to the chunker's whole-message default (internal/chunk treats
// chunksize<=0 as "one chunk per message").
func (e *Engine) CreateJob(conv, sourceKind, sourcePath string, chunksize, overlap int) (JobResult, error) {
	job := store.Job{
		Conv:       conv,
		SourceKind: sourceKind,
		SourcePath: sourcePath,
		ChunkSize:  chunksize,
		Overlap:    overlap,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateJob(job); err != nil {
		return JobResult{}, err
	}
	return JobResult{Conv: conv}, nil
}

// Run implements run.scan: execute the ATO->SEM->CLU->MEMA pipeline for
// conv against the currently loaded catalog (spec §4.10).
func (e *Engine) Run(ctx context.Context, conv string, overrides Overrides) (RunResult, error) {
	e.mu.RLock()
	catalog := e.catalog
	e.mu.RUnlock()

	orch := orchestrator.New(e.store, catalog, e.logger, e.defaults)
	return orch.Run(ctx, conv, overrides)
}

// levelsFor expands the closed {ato,sem,clu,mema,all} level selector spec
// §6.1/§6.4 describes into the concrete store.Level values to act on.
func levelsFor(level string) ([]store.Level, error) {
	switch level {
	case "ato":
		return []store.Level{store.LevelATO}, nil
	case "sem":
		return []store.Level{store.LevelSEM}, nil
	case "clu":
		return []store.Level{store.LevelCLU}, nil
	case "mema":
		return []store.Level{store.LevelMEMA}, nil
	case "all":
		return export.AllLevels, nil
	default:
		return nil, &engineerr.EngineError{Kind: engineerr.EngineInternal, Detail: fmt.Sprintf("unknown level %q", level)}
	}
}

// ViewEvents implements view.events: return the last `last` events (all of
// them when last <= 0) for conv at level, in the store's canonical
// (idx ASC, marker_id ASC) order. level
// must be one of ato/sem/clu/mema ("all" is not a valid view.events level
// per spec §6.1's per-operation signature, only export.events accepts it).
func (e *Engine) ViewEvents(conv, level string, last int) (ViewResult, error) {
	if level == "all" {
		return ViewResult{}, &engineerr.EngineError{Kind: engineerr.EngineInternal, Detail: "view.events does not accept level \"all\""}
	}
	lvls, err := levelsFor(level)
	if err != nil {
		return ViewResult{}, err
	}
	raw, err := e.store.QueryEvents(lvls[0], conv, 0)
	if err != nil {
		return ViewResult{}, err
	}
	if last > 0 && len(raw) > last {
		raw = raw[len(raw)-last:]
	}
	items := make([]Event, 0, len(raw))
	for _, ev := range raw {
		items = append(items, toPublicEvent(ev))
	}
	return ViewResult{Items: items}, nil
}

func toPublicEvent(ev store.Event) Event {
	return Event{
		Conv:       ev.Conv,
		TS:         ev.TS.UTC().Format("2006-01-02T15:04:05Z"),
		Idx:        ev.Idx,
		MarkerID:   ev.MarkerID,
		Text:       ev.Text,
		AtosJSON:   ev.AtosJSON,
		Score:      ev.Score,
		WindowJSON: ev.WindowJSON,
		Rationale:  ev.Rationale,
	}
}

// ExportEvents implements export.events: dump conv's events at level
// (ato/sem/clu/mema/all) to both JSONL and CSV under outDir, returning
// every file written (spec §6.1, §6.4).
func (e *Engine) ExportEvents(conv, level, outDir string) (ExportResult, error) {
	lvls, err := levelsFor(level)
	if err != nil {
		return ExportResult{}, err
	}

	now := time.Now().UTC()
	var files []string
	for _, lvl := range lvls {
		events, err := e.store.QueryEvents(lvl, conv, 0)
		if err != nil {
			return ExportResult{}, err
		}
		jsonlPath, err := export.JSONL(outDir, lvl, conv, events)
		if err != nil {
			return ExportResult{}, err
		}
		if err := e.recordArtifact(conv, "jsonl", jsonlPath, now); err != nil {
			return ExportResult{}, err
		}
		csvPath, err := export.CSV(outDir, lvl, conv, events)
		if err != nil {
			return ExportResult{}, err
		}
		if err := e.recordArtifact(conv, "csv", csvPath, now); err != nil {
			return ExportResult{}, err
		}
		files = append(files, jsonlPath, csvPath)
	}
	return ExportResult{Files: files}, nil
}

// recordArtifact persists one artifacts row so a caller can later
// enumerate a conv's export history without re-walking outDir (spec §6.3).
func (e *Engine) recordArtifact(conv, kind, path string, createdAt time.Time) error {
	return e.store.CreateArtifact(store.Artifact{
		ID:        uuid.NewString(),
		Conv:      conv,
		Kind:      kind,
		Path:      path,
		CreatedAt: createdAt,
	})
}

// ListArtifacts returns every artifact export.events has recorded for conv,
// most recent first. This is not one of §6.1's seven closed operations,
// but it is the natural read path over the artifacts table spec §6.3
// mandates, the same way the teacher exposes read helpers alongside each
// write path in pkg/services.
func (e *Engine) ListArtifacts(conv string) ([]Artifact, error) {
	raw, err := e.store.ListArtifacts(conv)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(raw))
	for _, a := range raw {
		out = append(out, Artifact{
			ID:        a.ID,
			Conv:      a.Conv,
			Kind:      a.Kind,
			Path:      a.Path,
			CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out, nil
}

// ClearRuntime implements runtime.clear: wipe every runtime event row for
// conv across all four levels (spec §4.1).
func (e *Engine) ClearRuntime(conv string) (ClearResult, error) {
	if err := e.store.ClearRuntime(conv); err != nil {
		return ClearResult{}, err
	}
	return ClearResult{OK: true}, nil
}
