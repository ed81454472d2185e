package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/store"
	"github.com/transrapport/engine/internal/store/teststore"
)

func TestCreateAndListArtifacts(t *testing.T) {
	s := teststore.New(t)

	older := store.Artifact{
		ID:        "artifact-1",
		Conv:      "conv-1",
		Kind:      "jsonl",
		Path:      "/tmp/exports/conv-1/ato.jsonl",
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	newer := store.Artifact{
		ID:        "artifact-2",
		Conv:      "conv-1",
		Kind:      "csv",
		Path:      "/tmp/exports/conv-1/ato.csv",
		CreatedAt: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateArtifact(older))
	require.NoError(t, s.CreateArtifact(newer))

	got, err := s.ListArtifacts("conv-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
	assert.Equal(t, "csv", got[0].Kind)
	assert.True(t, newer.CreatedAt.Equal(got[0].CreatedAt))
}

func TestListArtifactsScopedToConv(t *testing.T) {
	s := teststore.New(t)
	require.NoError(t, s.CreateArtifact(store.Artifact{
		ID: "a", Conv: "conv-a", Kind: "jsonl", Path: "/tmp/a.jsonl", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.CreateArtifact(store.Artifact{
		ID: "b", Conv: "conv-b", Kind: "jsonl", Path: "/tmp/b.jsonl", CreatedAt: time.Now().UTC(),
	}))

	got, err := s.ListArtifacts("conv-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
