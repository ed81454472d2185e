package transrapport_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/pkg/transrapport"
)

// markersRoot returns the path of the repo's fixture marker tree; tests
// load from it in place.
func markersRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Join(wd, "..", "..", "testdata", "markers")
}

func openEngine(t *testing.T) *transrapport.Engine {
	t.Helper()
	root := t.TempDir()
	e, err := transrapport.Open(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func TestLoadAndValidateRoundTrip(t *testing.T) {
	e := openEngine(t)

	loadRes, err := e.Load(markersRoot(t))
	require.NoError(t, err)
	assert.Greater(t, loadRes.Loaded, 0)
	assert.Empty(t, loadRes.Errors)

	valRes, err := e.Validate(true)
	require.NoError(t, err)
	assert.True(t, valRes.OK)
	assert.Empty(t, valRes.Violations)
}

func TestFullPipelineViaContract(t *testing.T) {
	e := openEngine(t)
	_, err := e.Load(markersRoot(t))
	require.NoError(t, err)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "conv.txt")
	transcript := "alpha one\n\nbravo two\n\nalpha three\n\nbravo four\n\nalpha five\n\nbravo six\n"
	require.NoError(t, os.WriteFile(srcPath, []byte(transcript), 0o644))

	_, err = e.CreateJob("demo", "text", srcPath, 0, 0)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), "demo", transrapport.Overrides{})
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Greater(t, summary.Counts.ATO, 0)
	assert.Equal(t, "demo", summary.TraceID)

	view, err := e.ViewEvents("demo", "ato", 0)
	require.NoError(t, err)
	assert.Len(t, view.Items, summary.Counts.ATO)

	exportDir := filepath.Join(dir, "exports")
	res, err := e.ExportEvents("demo", "all", exportDir)
	require.NoError(t, err)
	assert.Len(t, res.Files, 8) // jsonl+csv for each of 4 levels

	for _, f := range res.Files {
		_, statErr := os.Stat(f)
		assert.NoError(t, statErr)
	}

	artifacts, err := e.ListArtifacts("demo")
	require.NoError(t, err)
	assert.Len(t, artifacts, len(res.Files))
	for _, a := range artifacts {
		assert.NotEmpty(t, a.ID)
	}

	clearRes, err := e.ClearRuntime("demo")
	require.NoError(t, err)
	assert.True(t, clearRes.OK)

	view, err = e.ViewEvents("demo", "ato", 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items)
}

func TestViewEventsRejectsAll(t *testing.T) {
	e := openEngine(t)
	_, err := e.ViewEvents("demo", "all", 0)
	assert.Error(t, err)
}
