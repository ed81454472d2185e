package transrapport

import "github.com/transrapport/engine/internal/orchestrator"

// LoadResult is the result of markers.load (spec §6.1).
type LoadResult struct {
	Loaded int      `json:"loaded"`
	Errors []string `json:"errors"`
}

// ValidateResult is the result of markers.validate(strict=true) (spec §6.1).
type ValidateResult struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

// JobResult is the result of job.create (spec §6.1).
type JobResult struct {
	Conv string `json:"conv"`
}

// RunResult is the result of run.scan (spec §6.1). It embeds the
// orchestrator's own Summary shape verbatim rather than redeclaring it, so
// there is exactly one definition of what a run produces.
type RunResult = orchestrator.Summary

// Event is the public, JSON-encodable shape of one stored event,
// returned by view.events. Every field is present regardless of level;
// fields irrelevant to ev's level are left at their zero value, mirroring
// how internal/store.Event itself is a union of the four payload shapes.
type Event struct {
	Conv       string  `json:"conv"`
	TS         string  `json:"ts"`
	Idx        int     `json:"idx"`
	MarkerID   string  `json:"marker_id"`
	Text       string  `json:"text,omitempty"`
	AtosJSON   string  `json:"atos_json,omitempty"`
	Score      float64 `json:"score,omitempty"`
	WindowJSON string  `json:"window_json,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ViewResult is the result of view.events (spec §6.1).
type ViewResult struct {
	Items []Event `json:"items"`
}

// ExportResult is the result of export.events (spec §6.1).
type ExportResult struct {
	Files []string `json:"files"`
}

// ClearResult is the result of runtime.clear (spec §6.1).
type ClearResult struct {
	OK bool `json:"ok"`
}

// Artifact is the public, JSON-encodable shape of one recorded export
// file (spec §6.3's artifacts table), returned by ListArtifacts.
type Artifact struct {
	ID        string `json:"id"`
	Conv      string `json:"conv"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}
