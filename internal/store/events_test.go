package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/store"
	"github.com/transrapport/engine/internal/store/teststore"
)

func sampleATO(conv string, idx int, marker, text string, ts time.Time) store.Event {
	return store.Event{Conv: conv, TS: ts, Idx: idx, MarkerID: marker, Text: text}
}

func TestAppendAndQueryEventsATO(t *testing.T) {
	s := teststore.New(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []store.Event{
		sampleATO("conv-1", 1, "ATO_B", "b text", base.Add(time.Second)),
		sampleATO("conv-1", 1, "ATO_A", "a text", base.Add(time.Second)),
		sampleATO("conv-1", 0, "ATO_A", "zero text", base),
	}
	require.NoError(t, s.AppendEvents(store.LevelATO, "conv-1", batch))

	got, err := s.QueryEvents(store.LevelATO, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// ordered by (idx ASC, marker_id ASC)
	assert.Equal(t, 0, got[0].Idx)
	assert.Equal(t, "ATO_A", got[0].MarkerID)
	assert.Equal(t, 1, got[1].Idx)
	assert.Equal(t, "ATO_A", got[1].MarkerID)
	assert.Equal(t, 1, got[2].Idx)
	assert.Equal(t, "ATO_B", got[2].MarkerID)
}

func TestAppendEventsAllFourLevels(t *testing.T) {
	s := teststore.New(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendEvents(store.LevelSEM, "conv-2", []store.Event{
		{Conv: "conv-2", TS: ts, Idx: 0, MarkerID: "SEM_X", AtosJSON: `["ATO_A","ATO_B"]`},
	}))
	require.NoError(t, s.AppendEvents(store.LevelCLU, "conv-2", []store.Event{
		{Conv: "conv-2", TS: ts, Idx: 0, MarkerID: "CLU_A", Score: 0.75, WindowJSON: `{"sem_count":2}`},
	}))
	require.NoError(t, s.AppendEvents(store.LevelMEMA, "conv-2", []store.Event{
		{Conv: "conv-2", TS: ts, Idx: 0, MarkerID: "MEMA_THEME", Rationale: "dominant theme CLU_A"},
	}))

	semEvents, err := s.QueryEvents(store.LevelSEM, "conv-2", 0)
	require.NoError(t, err)
	require.Len(t, semEvents, 1)
	assert.Equal(t, `["ATO_A","ATO_B"]`, semEvents[0].AtosJSON)

	cluEvents, err := s.QueryEvents(store.LevelCLU, "conv-2", 0)
	require.NoError(t, err)
	require.Len(t, cluEvents, 1)
	assert.InDelta(t, 0.75, cluEvents[0].Score, 1e-9)

	memaEvents, err := s.QueryEvents(store.LevelMEMA, "conv-2", 0)
	require.NoError(t, err)
	require.Len(t, memaEvents, 1)
	assert.Equal(t, "dominant theme CLU_A", memaEvents[0].Rationale)
}

func TestQueryEventsLimit(t *testing.T) {
	s := teststore.New(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var batch []store.Event
	for i := 0; i < 5; i++ {
		batch = append(batch, sampleATO("conv-3", i, "ATO_A", "x", ts.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.AppendEvents(store.LevelATO, "conv-3", batch))

	got, err := s.QueryEvents(store.LevelATO, "conv-3", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestClearRuntimeWipesAllFourTables(t *testing.T) {
	s := teststore.New(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendEvents(store.LevelATO, "conv-4", []store.Event{sampleATO("conv-4", 0, "ATO_A", "x", ts)}))
	require.NoError(t, s.AppendEvents(store.LevelSEM, "conv-4", []store.Event{{Conv: "conv-4", TS: ts, Idx: 0, MarkerID: "SEM_X", AtosJSON: "[]"}}))
	require.NoError(t, s.AppendEvents(store.LevelCLU, "conv-4", []store.Event{{Conv: "conv-4", TS: ts, Idx: 0, MarkerID: "CLU_A", Score: 1, WindowJSON: "{}"}}))
	require.NoError(t, s.AppendEvents(store.LevelMEMA, "conv-4", []store.Event{{Conv: "conv-4", TS: ts, Idx: 0, MarkerID: "MEMA_THEME", Rationale: "r"}}))

	require.NoError(t, s.ClearRuntime("conv-4"))

	for _, level := range []store.Level{store.LevelATO, store.LevelSEM, store.LevelCLU, store.LevelMEMA} {
		got, err := s.QueryEvents(level, "conv-4", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestClearRuntimeDoesNotTouchOtherConv(t *testing.T) {
	s := teststore.New(t)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendEvents(store.LevelATO, "conv-a", []store.Event{sampleATO("conv-a", 0, "ATO_A", "x", ts)}))
	require.NoError(t, s.AppendEvents(store.LevelATO, "conv-b", []store.Event{sampleATO("conv-b", 0, "ATO_A", "x", ts)}))

	require.NoError(t, s.ClearRuntime("conv-a"))

	gotA, err := s.QueryEvents(store.LevelATO, "conv-a", 0)
	require.NoError(t, err)
	assert.Empty(t, gotA)

	gotB, err := s.QueryEvents(store.LevelATO, "conv-b", 0)
	require.NoError(t, err)
	assert.Len(t, gotB, 1)
}
