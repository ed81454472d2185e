package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/config"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/orchestrator"
	"github.com/transrapport/engine/internal/store"
	"github.com/transrapport/engine/internal/store/teststore"
)

func strPtr(s string) *string { return &s }

func frame() markerdef.Frame {
	return markerdef.Frame{Signal: "s", Concept: "c", Pragmatics: "p", Narrative: "n"}
}

func examples() []string {
	return []string{"one", "two", "three", "four", "five"}
}

// demoCatalog is a subset of testdata/markers: ATO_A("alpha")/ATO_B("bravo")
// compose into SEM_X, which CLU_A and CLU_B each turn into a transition
// event on "AT_LEAST 1 DISTINCT SEMs IN 3 messages".
func demoCatalog() map[string]markerdef.Definition {
	defs := []markerdef.Definition{
		{ID: "ATO_A", Class: markerdef.ClassATO, Frame: frame(), Examples: examples(), Pattern: strPtr("alpha")},
		{ID: "ATO_B", Class: markerdef.ClassATO, Frame: frame(), Examples: examples(), Pattern: strPtr("bravo")},
		{
			ID: "SEM_X", Class: markerdef.ClassSEM, Frame: frame(), Examples: examples(),
			ComposedOf: []string{"ATO_A", "ATO_B"},
			Activation: &markerdef.Activation{Rule: "ANY 2 IN 3 messages"},
		},
		{
			ID: "CLU_A", Class: markerdef.ClassCLU, Frame: frame(), Examples: examples(),
			ComposedOf: []string{"SEM_X"},
			Activation: &markerdef.Activation{Rule: "AT_LEAST 1 DISTINCT SEMs IN 3 messages"},
		},
		{
			ID: "CLU_B", Class: markerdef.ClassCLU, Frame: frame(), Examples: examples(),
			ComposedOf: []string{"SEM_X"},
			Activation: &markerdef.Activation{Rule: "AT_LEAST 1 DISTINCT SEMs IN 3 messages"},
		},
	}
	out := make(map[string]markerdef.Definition, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	return out
}

func writeSourceFile(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

const demoTranscript = "alpha one\n\nbravo two\n\nalpha three\n\nbravo four\n\nalpha five\n\nbravo six\n"

func newJob(t *testing.T, conv, sourcePath string) store.Job {
	t.Helper()
	return store.Job{
		Conv:       conv,
		SourceKind: "text",
		SourcePath: sourcePath,
		ChunkSize:  400,
		Overlap:    0,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestOrchestratorRunProducesEventsAcrossLevels(t *testing.T) {
	s := teststore.New(t)
	path := writeSourceFile(t, demoTranscript)
	require.NoError(t, s.CreateJob(newJob(t, "conv-1", path)))

	orch := orchestrator.New(s, demoCatalog(), nil, config.Defaults{})
	summary, err := orch.Run(context.Background(), "conv-1", orchestrator.Overrides{})
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, "conv-1", summary.TraceID)
	assert.Greater(t, summary.Counts.ATO, 0)
	assert.Greater(t, summary.Counts.SEM, 0)
	assert.Greater(t, summary.Counts.CLU, 0)

	job, err := s.GetJob("conv-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobComplete, job.Status)

	atoEvents, err := s.QueryEvents(store.LevelATO, "conv-1", 0)
	require.NoError(t, err)
	assert.Len(t, atoEvents, summary.Counts.ATO)
}

// S6 — idempotent rerun: running scan twice back-to-back yields identical
// counts, and the store holds exactly one generation of events afterward
// (not the union of both runs).
func TestOrchestratorRerunIsIdempotent(t *testing.T) {
	s := teststore.New(t)
	path := writeSourceFile(t, demoTranscript)
	require.NoError(t, s.CreateJob(newJob(t, "conv-s6", path)))

	orch := orchestrator.New(s, demoCatalog(), nil, config.Defaults{})

	first, err := orch.Run(context.Background(), "conv-s6", orchestrator.Overrides{})
	require.NoError(t, err)

	second, err := orch.Run(context.Background(), "conv-s6", orchestrator.Overrides{})
	require.NoError(t, err)

	assert.Equal(t, first.Counts, second.Counts)

	atoEvents, err := s.QueryEvents(store.LevelATO, "conv-s6", 0)
	require.NoError(t, err)
	assert.Len(t, atoEvents, first.Counts.ATO, "rerun must not duplicate events from the prior run")
}

func TestOrchestratorRunJobNotFound(t *testing.T) {
	s := teststore.New(t)
	orch := orchestrator.New(s, demoCatalog(), nil, config.Defaults{})

	_, err := orch.Run(context.Background(), "missing-conv", orchestrator.Overrides{})
	require.Error(t, err)
	var serr *engineerr.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, engineerr.StorageNotFound, serr.Kind)
}

// Cancellation requested before the run proper starts (but after
// clear_runtime has already committed) must return a CancelledError and
// leave the job in JobCleared, with zero observable events.
func TestOrchestratorRunHonorsCancellation(t *testing.T) {
	s := teststore.New(t)
	path := writeSourceFile(t, demoTranscript)
	require.NoError(t, s.CreateJob(newJob(t, "conv-cancel", path)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := orchestrator.New(s, demoCatalog(), nil, config.Defaults{})
	_, err := orch.Run(ctx, "conv-cancel", orchestrator.Overrides{})
	require.Error(t, err)
	var cerr *engineerr.CancelledError
	require.ErrorAs(t, err, &cerr)

	job, err := s.GetJob("conv-cancel")
	require.NoError(t, err)
	assert.Equal(t, store.JobCleared, job.Status)

	events, err := s.QueryEvents(store.LevelATO, "conv-cancel", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// A context whose deadline has already passed when Run is called must
// return a CancelledError, leave the job cleared, and leave every level's
// event table empty.
func TestOrchestratorExpiredDeadlineLeavesStoreClean(t *testing.T) {
	s := teststore.New(t)
	path := writeSourceFile(t, demoTranscript)
	require.NoError(t, s.CreateJob(newJob(t, "conv-midcancel", path)))

	// The 1ms deadline has expired by the time Run starts, so the check
	// after clear_runtime reports the cancellation before any level runs.
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	time.Sleep(2 * time.Millisecond)

	orch := orchestrator.New(s, demoCatalog(), nil, config.Defaults{})
	_, err := orch.Run(ctx, "conv-midcancel", orchestrator.Overrides{BatchSize: 1})
	require.Error(t, err)
	var cerr *engineerr.CancelledError
	require.ErrorAs(t, err, &cerr)

	job, err := s.GetJob("conv-midcancel")
	require.NoError(t, err)
	assert.Equal(t, store.JobCleared, job.Status)

	for _, lvl := range []store.Level{store.LevelATO, store.LevelSEM, store.LevelCLU, store.LevelMEMA} {
		events, err := s.QueryEvents(lvl, "conv-midcancel", 0)
		require.NoError(t, err)
		assert.Empty(t, events, "level %s must hold no partial events after cancellation", lvl)
	}
}

// A fatal EngineError (malformed pattern reaching the ATO engine, which
// validation should have already rejected) marks the job failed and
// leaves the store clean, per spec §4.10's rollback guarantee.
func TestOrchestratorEngineErrorMarksJobFailedAndCleansUp(t *testing.T) {
	s := teststore.New(t)
	path := writeSourceFile(t, demoTranscript)
	require.NoError(t, s.CreateJob(newJob(t, "conv-fail", path)))

	catalog := demoCatalog()
	catalog["ATO_BAD"] = markerdef.Definition{
		ID: "ATO_BAD", Class: markerdef.ClassATO, Frame: frame(), Examples: examples(),
		Pattern: strPtr("(unclosed"),
	}

	orch := orchestrator.New(s, catalog, nil, config.Defaults{})
	_, err := orch.Run(context.Background(), "conv-fail", orchestrator.Overrides{})
	require.Error(t, err)
	var eerr *engineerr.EngineError
	require.ErrorAs(t, err, &eerr)

	job, err := s.GetJob("conv-fail")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.NotEmpty(t, job.LastError)

	events, err := s.QueryEvents(store.LevelATO, "conv-fail", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
