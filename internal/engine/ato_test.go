package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/engine"
	"github.com/transrapport/engine/internal/markerdef"
)

func strPtr(s string) *string { return &s }

func atoDef(id, pattern string) markerdef.Definition {
	return markerdef.Definition{ID: id, Class: markerdef.ClassATO, Pattern: strPtr(pattern)}
}

// S1 — ATO trigger.
func TestATOEngineSingleTrigger(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := chunk.Messages("Ja, aber ich weiß nicht.", created)
	require.Len(t, msgs, 1)

	eng, err := engine.NewATOEngine([]markerdef.Definition{atoDef("ATO_JA_ABER", "ja, aber")})
	require.NoError(t, err)

	events, err := eng.Run("conv-s1", msgs)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ATO_JA_ABER", events[0].MarkerID)
	assert.Equal(t, 1, events[0].Idx)
}

func TestATOEngineNonOverlappingMatchesPerMessage(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := chunk.Messages("alpha alpha alpha", created)

	eng, err := engine.NewATOEngine([]markerdef.Definition{atoDef("ATO_A", "alpha")})
	require.NoError(t, err)

	events, err := eng.Run("conv", msgs)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestATOEngineCoincidentDifferentIDs(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := chunk.Messages("alpha bravo", created)

	eng, err := engine.NewATOEngine([]markerdef.Definition{atoDef("ATO_A", "alpha"), atoDef("ATO_B", "bravo")})
	require.NoError(t, err)

	events, err := eng.Run("conv", msgs)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ATO_A", events[0].MarkerID)
	assert.Equal(t, "ATO_B", events[1].MarkerID)
}

func TestATOEngineEmptyInputYieldsZeroEvents(t *testing.T) {
	eng, err := engine.NewATOEngine([]markerdef.Definition{atoDef("ATO_A", "alpha")})
	require.NoError(t, err)

	events, err := eng.Run("conv", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestATOEngineRejectsInvalidPattern(t *testing.T) {
	_, err := engine.NewATOEngine([]markerdef.Definition{atoDef("ATO_BAD", "(unclosed")})
	require.Error(t, err)
}
