package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transrapport/engine/internal/detector"
	"github.com/transrapport/engine/internal/engine"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/store"
)

func memaRuleDef(id string, composedOf []string, rule string) markerdef.Definition {
	return markerdef.Definition{ID: id, Class: markerdef.ClassMEMA, ComposedOf: composedOf, Activation: &markerdef.Activation{Rule: rule}}
}

func memaDetectorDef(id, name string) markerdef.Definition {
	return markerdef.Definition{ID: id, Class: markerdef.ClassMEMA, DetectClass: &name}
}

func cluEvent(conv string, idx int, marker string, ts time.Time) store.Event {
	return store.Event{Conv: conv, TS: ts, Idx: idx, MarkerID: marker}
}

// S4 — MEMA rule.
func TestMEMAEngineRuleScenario(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := makeMsgs(30, created)

	cluEvents := []store.Event{
		cluEvent("conv-s4", 10, "CLU_A", msgs[9].TS),
		cluEvent("conv-s4", 20, "CLU_B", msgs[19].TS),
		cluEvent("conv-s4", 25, "CLU_C", msgs[24].TS),
	}

	eng, err := engine.NewMEMAEngine([]markerdef.Definition{
		memaRuleDef("MEMA_THEME", []string{"CLU_A", "CLU_B", "CLU_C"}, "AT_LEAST 3 DISTINCT CLUs IN 30 messages"),
	}, "")
	require.NoError(t, err)

	events, err := eng.Run("conv-s4", msgs, cluEvents, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 25, events[0].Idx)
}

func TestMEMAEngineRejectsUnknownDetector(t *testing.T) {
	_, err := engine.NewMEMAEngine([]markerdef.Definition{memaDetectorDef("MEMA_X", "not_registered")}, "")
	require.Error(t, err)
}

func TestMEMAEngineDetectorMode(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := makeMsgs(6, created)

	var cluEvents []store.Event
	ids := []string{"CLU_A", "CLU_B", "CLU_A", "CLU_B", "CLU_A", "CLU_B"}
	for i, id := range ids {
		cluEvents = append(cluEvents, cluEvent("conv", i+1, id, msgs[i].TS))
	}

	eng, err := engine.NewMEMAEngine([]markerdef.Definition{memaDetectorDef("MEMA_OSC", "oscillation")}, "")
	require.NoError(t, err)

	events, err := eng.Run("conv", msgs, cluEvents, detector.Catalog{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "MEMA_OSC", events[0].MarkerID)
	assert.Contains(t, events[0].Rationale, "detector:oscillation")
}
