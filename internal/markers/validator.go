package markers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/transrapport/engine/internal/detector"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/rules"
)

// Validate runs spec §4.3's ten rules, in order, against def. known is the
// set of already-loaded-and-valid definitions (for composed_of resolution
// and cross-layer checks); it does not include def itself. Unlike loading,
// validation never stops at the first rule failure within a single
// marker — it accumulates every violation it can find and returns all of
// them, so a caller sees the whole picture in one pass (spec §7: "validation
// accumulates").
func Validate(def markerdef.Definition, known map[string]markerdef.Definition) []*engineerr.ValidationError {
	var errs []*engineerr.ValidationError
	fail := func(rule, detail string) {
		errs = append(errs, &engineerr.ValidationError{
			MarkerID: def.ID,
			File:     def.SourcePath,
			Rule:     rule,
			Detail:   detail,
		})
	}

	// 1. Id prefix matches the directory's expected class.
	prefix := def.Class.Prefix()
	if len(def.ID) < len(prefix) || def.ID[:len(prefix)] != prefix {
		fail("id prefix", fmt.Sprintf("id %q must start with %q for class %s", def.ID, prefix, def.Class))
	}

	// 2. Frame present with all four keys non-empty.
	f := def.Frame
	if f.Signal == "" || f.Concept == "" || f.Pragmatics == "" || f.Narrative == "" {
		fail("frame", "frame.signal, frame.concept, frame.pragmatics, frame.narrative must all be non-empty")
	}

	// 3. Examples cardinality >= 5, each non-empty.
	if len(def.Examples) < 5 {
		fail("examples", fmt.Sprintf("requires >=5 examples, got %d", len(def.Examples)))
	} else {
		for i, ex := range def.Examples {
			if ex == "" {
				fail("examples", fmt.Sprintf("example %d is empty", i))
			}
		}
	}

	// 4. Exactly-one-structure-block.
	present := 0
	if def.Pattern != nil {
		present++
	}
	if def.ComposedOf != nil {
		present++
	}
	if def.DetectClass != nil {
		present++
	}
	if present != 1 {
		fail("exactly-one-structure-block", fmt.Sprintf("exactly one of pattern, composed_of, detect_class must be present, found %d", present))
	}

	// Per-class structural rules (5, 6, 7, 8) only make sense once rule 4
	// holds for the relevant field, but we still report what we can.
	switch def.Class {
	case markerdef.ClassATO:
		if def.Pattern == nil {
			fail("ATO structure", "ATO markers require a pattern")
		} else if _, err := regexp.CompilePOSIX(strings.ToLower(*def.Pattern)); err != nil {
			fail("ATO structure", fmt.Sprintf("pattern does not compile: %v", err))
		}
		if def.ComposedOf != nil || def.DetectClass != nil {
			fail("ATO structure", "ATO markers must not set composed_of or detect_class")
		}

	case markerdef.ClassSEM:
		validateComposition(def, known, "ATO_", "SEM composition", fail, true)

	case markerdef.ClassCLU:
		validateComposition(def, known, "SEM_", "CLU composition", fail, false)

	case markerdef.ClassMEMA:
		hasComposed := def.ComposedOf != nil
		hasDetect := def.DetectClass != nil
		if hasComposed == hasDetect {
			fail("MEMA structure", "MEMA requires exactly one of composed_of or detect_class")
		}
		if hasComposed {
			validateComposition(def, known, "CLU_", "MEMA composition", fail, false)
		}
		if hasDetect {
			found := false
			for _, n := range detector.Names() {
				if n == *def.DetectClass {
					found = true
					break
				}
			}
			if !found {
				fail("Detector", fmt.Sprintf("detect_class %q is not a registered detector", *def.DetectClass))
			}
		}

	default:
		fail("class", fmt.Sprintf("unknown class %q", def.Class))
	}

	// 9. Activation rule parses successfully, when present.
	if def.Activation != nil && def.Activation.Rule != "" {
		if _, err := rules.Parse(def.Activation.Rule); err != nil {
			fail("Activation rule", err.Error())
		}
	}

	// 10. Scoring constraints, when present.
	if def.Scoring != nil {
		s := def.Scoring
		if s.Decay < 0 || s.Decay > 1 {
			fail("Scoring", fmt.Sprintf("decay must be in [0,1], got %v", s.Decay))
		}
		if s.Weight < 0 {
			fail("Scoring", fmt.Sprintf("weight must be >=0, got %v", s.Weight))
		}
		if s.Formula != "linear" && s.Formula != "logistic" {
			fail("Scoring", fmt.Sprintf("formula must be linear or logistic, got %q", s.Formula))
		}
	}

	return errs
}

// ValidateAll re-validates every definition in catalog against the full
// catalog as the known set, for the programmatic contract's
// markers.validate(strict=true) operation (spec §6.1). Strict mode is the
// only mode the validator has — spec §4.3 calls it "mandatory for CI
// gates" — so this is simply Validate run over every already-loaded
// definition, accumulating every violation across the whole catalog
// rather than stopping at the first marker with a problem.
func ValidateAll(catalog map[string]markerdef.Definition) []*engineerr.ValidationError {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var violations []*engineerr.ValidationError
	for _, id := range ids {
		violations = append(violations, Validate(catalog[id], catalog)...)
	}
	return violations
}

// validateComposition implements rules 5/6/7: composed_of entries must all
// carry wantPrefix, be distinct, and resolve to already-loaded definitions.
// requireTwo additionally enforces the SEM>=2-distinct-ATO invariant.
func validateComposition(def markerdef.Definition, known map[string]markerdef.Definition, wantPrefix, ruleName string, fail func(rule, detail string), requireTwo bool) {
	if def.ComposedOf == nil {
		return // exactly-one-structure-block already reported this
	}
	minLen := 1
	if requireTwo {
		minLen = 2
	}
	if len(def.ComposedOf) < minLen {
		fail(ruleName, fmt.Sprintf("composed_of requires >=%d entries, got %d", minLen, len(def.ComposedOf)))
	}

	seen := map[string]bool{}
	distinctCount := 0
	for _, id := range def.ComposedOf {
		if seen[id] {
			fail(ruleName, fmt.Sprintf("composed_of contains duplicate id %q", id))
			continue
		}
		seen[id] = true
		distinctCount++

		if len(id) < len(wantPrefix) || id[:len(wantPrefix)] != wantPrefix {
			fail(ruleName, fmt.Sprintf("composed_of entry %q must have prefix %q", id, wantPrefix))
			continue
		}
		if _, ok := known[id]; !ok {
			fail(ruleName, fmt.Sprintf("composed_of entry %q does not resolve to a loaded marker", id))
		}
	}
	if requireTwo && distinctCount < 2 {
		fail(ruleName, "requires >=2 distinct ATOs")
	}
}
