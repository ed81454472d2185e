// Package rules parses the activation-rule DSL (spec §4.4) into a typed
// predicate tree; the windowed evaluation of those predicates over event
// streams lives in internal/engine.
package rules

import "fmt"

// Kind identifies which of the three rule shapes a Predicate represents.
type Kind string

const (
	KindCount    Kind = "count"    // ANY k IN n messages
	KindDistinct Kind = "distinct" // AT_LEAST k DISTINCT (SEMs|ATOs|CLUs) IN n messages
	KindSum      Kind = "sum"      // SUM(weight) CMP t WITHIN duration
)

// WindowUnit distinguishes a message-count window from a wall-clock window.
type WindowUnit string

const (
	WindowMessages WindowUnit = "messages"
	WindowDuration WindowUnit = "duration"
)

// DistinctEntity names what a distinct_rule counts over.
type DistinctEntity string

const (
	EntitySEM DistinctEntity = "SEMs"
	EntityATO DistinctEntity = "ATOs"
	EntityCLU DistinctEntity = "CLUs"
)

// Comparator is the SUM(weight) comparison operator.
type Comparator string

const (
	CmpGE Comparator = ">="
	CmpGT Comparator = ">"
)

// Predicate is the parsed form of one activation-rule string.
type Predicate struct {
	Kind Kind

	// count_rule / distinct_rule
	Threshold    int
	WindowSize   int // messages, when WindowUnit == WindowMessages
	WindowUnit   WindowUnit
	Distinct     bool
	Entity       DistinctEntity

	// sum_rule
	Cmp          Comparator
	Target       float64
	Horizon      DurationSpec

	// Source is the original rule text as parsed. It is not written into
	// stored CLU window snapshots.
	Source string
}

// DurationSpec is a parsed DURATION token: an integer count of a unit.
type DurationSpec struct {
	Count int
	Unit  rune // 's' | 'm' | 'h' | 'd'
}

// Seconds returns the duration in seconds.
func (d DurationSpec) Seconds() int64 {
	mult := map[rune]int64{'s': 1, 'm': 60, 'h': 3600, 'd': 86400}[d.Unit]
	return int64(d.Count) * mult
}

func (d DurationSpec) String() string {
	return fmt.Sprintf("%d%c", d.Count, d.Unit)
}
