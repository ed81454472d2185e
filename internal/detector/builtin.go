package detector

import (
	"fmt"
	"sort"
)

// Oscillation flags a CLU window where exactly two distinct CLU ids
// alternate at least three times each (an approach/avoidance pattern):
// A, B, A, B, A, B, ... in first-seen order within the window.
func Oscillation(memaID string, window []CLUEvent, _ Catalog) []Hit {
	if len(window) < 6 {
		return nil
	}
	var ids []string
	seen := map[string]bool{}
	for _, e := range window {
		if !seen[e.MarkerID] {
			seen[e.MarkerID] = true
			ids = append(ids, e.MarkerID)
		}
	}
	if len(ids) != 2 {
		return nil
	}
	a, b := ids[0], ids[1]
	alt := true
	want := a
	count := 0
	for _, e := range window {
		if e.MarkerID != a && e.MarkerID != b {
			continue
		}
		if e.MarkerID != want {
			alt = false
			break
		}
		count++
		if want == a {
			want = b
		} else {
			want = a
		}
	}
	if !alt || count < 6 {
		return nil
	}
	last := window[len(window)-1]
	return []Hit{{
		MarkerID:  memaID,
		TS:        last.TS,
		Idx:       last.Idx,
		Rationale: fmt.Sprintf("detector:oscillation pair=%s,%s count=%d", a, b, count),
	}}
}

// DominantTheme flags a CLU window where one CLU id accounts for at least
// 60% of CLU events while at least two other distinct CLU ids are also
// present, i.e. one theme is crowding out a genuinely plural conversation.
func DominantTheme(memaID string, window []CLUEvent, _ Catalog) []Hit {
	if len(window) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, e := range window {
		counts[e.MarkerID]++
	}
	if len(counts) < 3 {
		return nil
	}
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var topID string
	topCount := 0
	for _, id := range ids {
		if counts[id] > topCount {
			topCount = counts[id]
			topID = id
		}
	}
	ratio := float64(topCount) / float64(len(window))
	if ratio < 0.6 {
		return nil
	}
	last := window[len(window)-1]
	return []Hit{{
		MarkerID:  memaID,
		TS:        last.TS,
		Idx:       last.Idx,
		Rationale: fmt.Sprintf("detector:dominant_theme marker=%s ratio=%.2f distinct=%d", topID, ratio, len(counts)),
	}}
}
