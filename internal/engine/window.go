// Package engine implements the four level-engines (ATO/SEM/CLU/MEMA)
// described in spec §4.6–§4.9: pattern matching, windowed rule
// evaluation, scoring/decay, and detector invocation. Each engine is a
// pure function of its inputs (prior-level events plus definitions) to
// an ordered slice of new events; the orchestrator owns persistence.
package engine

import "github.com/transrapport/engine/internal/store"

// groupByIdx buckets events by Idx. Callers pass events already ordered
// (idx ASC, marker_id ASC) — the order every level-engine produces — so
// each bucket inherits that order.
func groupByIdx(events []store.Event) map[int][]store.Event {
	out := make(map[int][]store.Event, len(events))
	for _, ev := range events {
		out[ev.Idx] = append(out[ev.Idx], ev)
	}
	return out
}

// windowMembers returns every event with start <= idx <= end, in idx order.
// start is clamped to 1: a window never reaches before the first message.
func windowMembers(byIdx map[int][]store.Event, start, end int) []store.Event {
	if start < 1 {
		start = 1
	}
	var out []store.Event
	for idx := start; idx <= end; idx++ {
		out = append(out, byIdx[idx]...)
	}
	return out
}

// distinctAndCount scans members for events whose MarkerID is in set,
// returning the distinct ids in first-seen order and the total matching
// event count (with duplicates).
func distinctAndCount(members []store.Event, set map[string]bool) ([]string, int) {
	seen := make(map[string]bool)
	var distinct []string
	total := 0
	for _, ev := range members {
		if !set[ev.MarkerID] {
			continue
		}
		total++
		if !seen[ev.MarkerID] {
			seen[ev.MarkerID] = true
			distinct = append(distinct, ev.MarkerID)
		}
	}
	return distinct, total
}
