// Package detector implements the fixed, named detector set usable in
// place of composed_of for a MEMA definition (spec §4.9). The registered
// set is fixed at engine init and enumerated at validation time — this
// package is the single source of truth for both.
package detector

import (
	"time"

	"github.com/transrapport/engine/internal/markerdef"
)

// CLUEvent is the minimal view of a persisted CLU event a detector needs.
// It deliberately does not carry the full event payload: detectors are
// pure functions of their input window, with no side effects, per spec.
type CLUEvent struct {
	TS       time.Time
	Idx      int
	MarkerID string
}

// Hit is one detection a detector's Func may emit for the current window.
type Hit struct {
	MarkerID  string
	TS        time.Time
	Idx       int
	Rationale string
}

// Catalog exposes enabled marker definitions to a detector, keyed by id.
type Catalog map[string]markerdef.Definition

// Func is a pure detector: given a CLU event window (already restricted to
// the MEMA's configured window) and the full marker catalog, it returns
// zero or more hits. No I/O, no randomness, no clock reads.
type Func func(memaID string, window []CLUEvent, catalog Catalog) []Hit

// registry is the fixed, closed set of detectors this engine ships with.
// Adding a detector means adding an entry here, in the same way the
// teacher's masking package enumerates its built-in pattern set
// (pkg/masking: compileBuiltinPatterns) rather than discovering them
// dynamically.
var registry = map[string]Func{
	"oscillation":    Oscillation,
	"dominant_theme": DominantTheme,
}

// Lookup returns the named detector and whether it is registered.
func Lookup(name string) (Func, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the registered detector set, used by the validator to
// check a detect_class reference (spec §4.3 rule 8).
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
