package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transrapport/engine/internal/markerdef"
)

func strp(s string) *string { return &s }

func validATO() markerdef.Definition {
	return markerdef.Definition{
		ID:    "ATO_FOO",
		Class: markerdef.ClassATO,
		Frame: markerdef.Frame{Signal: "s", Concept: "c", Pragmatics: "p", Narrative: "n"},
		Examples: []string{"a", "b", "c", "d", "e"},
		Pattern:  strp("foo"),
	}
}

func TestValidateRejectsBadPrefix(t *testing.T) {
	def := validATO()
	def.ID = "SEM_FOO"
	errs := Validate(def, nil)
	found := false
	for _, e := range errs {
		if e.Rule == "id prefix" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateRejectsMissingFrame(t *testing.T) {
	def := validATO()
	def.Frame.Concept = ""
	errs := Validate(def, nil)
	found := false
	for _, e := range errs {
		if e.Rule == "frame" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateRejectsTooFewExamples(t *testing.T) {
	def := validATO()
	def.Examples = []string{"a", "b"}
	errs := Validate(def, nil)
	found := false
	for _, e := range errs {
		if e.Rule == "examples" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateRejectsMultipleStructureBlocks(t *testing.T) {
	def := validATO()
	def.ComposedOf = []string{"ATO_BAR"}
	errs := Validate(def, nil)
	found := false
	for _, e := range errs {
		if e.Rule == "exactly-one-structure-block" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	def := markerdef.Definition{ID: "ATO_X", Class: markerdef.ClassATO}
	errs := Validate(def, nil)
	// frame, examples, and exactly-one-structure-block should all fire
	// together in a single pass, not stop at the first.
	assert.GreaterOrEqual(t, len(errs), 3)
}

func TestValidateScoringBounds(t *testing.T) {
	def := markerdef.Definition{
		ID:    "CLU_X",
		Class: markerdef.ClassCLU,
		Frame: markerdef.Frame{Signal: "s", Concept: "c", Pragmatics: "p", Narrative: "n"},
		Examples:   []string{"a", "b", "c", "d", "e"},
		ComposedOf: []string{"SEM_A"},
		Scoring:    &markerdef.Scoring{Decay: 1.5, Weight: -1, Formula: "exponential"},
	}
	known := map[string]markerdef.Definition{"SEM_A": {}}
	errs := Validate(def, known)
	rules := map[string]bool{}
	for _, e := range errs {
		rules[e.Rule] = true
	}
	assert.True(t, rules["Scoring"])
}
