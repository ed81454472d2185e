package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/detector"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/rules"
	"github.com/transrapport/engine/internal/store"
)

// parseWindowMessages recognizes the "<n> messages" form of a MEMA's
// optional window field; any other form (reserved for a future duration
// window) is reported as not ok and the detector sees the full history.
func parseWindowMessages(s string) (int, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 || fields[1] != "messages" {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// DefaultMEMARule is applied to any rule-mode MEMA lacking its own
// activation.rule (spec §4.9).
const DefaultMEMARule = "ANY 3 IN 30 messages"

type compiledMEMA struct {
	def          markerdef.Definition
	pred         *rules.Predicate // nil in detector mode
	set          map[string]bool
	detectorName string // "" in rule mode
	detectorFn   detector.Func
}

// MEMAEngine evaluates each MEMA definition over a conv's CLU events,
// either by rule (like a CLU, over CLU ids) or by invoking a registered
// detector (spec §4.9).
type MEMAEngine struct {
	compiled []compiledMEMA
}

// NewMEMAEngine compiles every definition. A detect_class name not in the
// registry is an EngineError{DetectorMissing}: validation should have
// already rejected this, so reaching it here is a bug signal, exactly
// like a malformed ATO pattern reaching the ATO engine (spec §4.6).
func NewMEMAEngine(defs []markerdef.Definition, overrideRule string) (*MEMAEngine, error) {
	fallback := DefaultMEMARule
	if overrideRule != "" {
		fallback = overrideRule
	}
	compiled := make([]compiledMEMA, 0, len(defs))
	for _, d := range defs {
		if d.DetectClass != nil {
			fn, ok := detector.Lookup(*d.DetectClass)
			if !ok {
				return nil, &engineerr.EngineError{Kind: engineerr.EngineDetectorMissing, MarkerID: d.ID, Detail: *d.DetectClass}
			}
			compiled = append(compiled, compiledMEMA{def: d, detectorName: *d.DetectClass, detectorFn: fn})
			continue
		}
		ruleText := fallback
		if d.Activation != nil && d.Activation.Rule != "" {
			ruleText = d.Activation.Rule
		}
		pred, err := rules.Parse(ruleText)
		if err != nil {
			return nil, &engineerr.EngineError{Kind: engineerr.EngineInternal, MarkerID: d.ID, Detail: err.Error()}
		}
		set := make(map[string]bool, len(d.ComposedOf))
		for _, id := range d.ComposedOf {
			set[id] = true
		}
		compiled = append(compiled, compiledMEMA{def: d, pred: pred, set: set})
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].def.ID < compiled[j].def.ID })
	return &MEMAEngine{compiled: compiled}, nil
}

// Run evaluates every MEMA definition over the full message sequence,
// independent definitions running concurrently and each one's own
// evaluation sequentially (same shape as CLUEngine.Run, since rule-mode
// MEMAs share CLU's event-like, transition-only re-emission policy).
func (e *MEMAEngine) Run(conv string, msgs []chunk.Message, cluEvents []store.Event, catalog detector.Catalog) ([]store.Event, error) {
	byIdx := groupByIdx(cluEvents)

	perDef := make([][]store.Event, len(e.compiled))
	g := new(errgroup.Group)
	for i, c := range e.compiled {
		i, c := i, c
		g.Go(func() error {
			var evs []store.Event
			var err error
			if c.detectorFn != nil {
				evs, err = c.runDetector(conv, msgs, cluEvents, catalog)
			} else {
				evs, err = c.runRule(conv, msgs, byIdx)
			}
			if err != nil {
				return err
			}
			perDef[i] = evs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byMsgIdx := make(map[int][]store.Event)
	for _, evs := range perDef {
		for _, ev := range evs {
			byMsgIdx[ev.Idx] = append(byMsgIdx[ev.Idx], ev)
		}
	}
	idxs := make([]int, 0, len(byMsgIdx))
	for idx := range byMsgIdx {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	var out []store.Event
	for _, idx := range idxs {
		group := byMsgIdx[idx]
		sort.SliceStable(group, func(i, j int) bool { return group[i].MarkerID < group[j].MarkerID })
		out = append(out, group...)
	}
	return out, nil
}

func (c *compiledMEMA) runRule(conv string, msgs []chunk.Message, byIdx map[int][]store.Event) ([]store.Event, error) {
	var out []store.Event
	prevSatisfied := false

	for _, msg := range msgs {
		start := msg.Idx - c.pred.WindowSize + 1
		members := windowMembers(byIdx, start, msg.Idx)
		distinct, total := distinctAndCount(members, c.set)

		var satisfied bool
		var count int
		switch c.pred.Kind {
		case rules.KindCount:
			satisfied = total >= c.pred.Threshold && len(distinct) >= 2
			count = total
		case rules.KindDistinct:
			satisfied = len(distinct) >= c.pred.Threshold
			count = len(distinct)
		}

		if satisfied && !prevSatisfied {
			out = append(out, store.Event{
				Conv:      conv,
				TS:        msg.TS,
				Idx:       msg.Idx,
				MarkerID:  c.def.ID,
				Rationale: fmt.Sprintf("rule:%s count=%s", c.pred.Kind, strconv.Itoa(count)),
			})
		}
		prevSatisfied = satisfied
	}
	return out, nil
}

func (c *compiledMEMA) runDetector(conv string, msgs []chunk.Message, cluEvents []store.Event, catalog detector.Catalog) ([]store.Event, error) {
	bounded := cluEvents
	if c.def.Window != nil {
		if n, ok := parseWindowMessages(*c.def.Window); ok && len(msgs) > 0 {
			last := msgs[len(msgs)-1].Idx
			start := last - n + 1
			var filtered []store.Event
			for _, ev := range cluEvents {
				if ev.Idx >= start {
					filtered = append(filtered, ev)
				}
			}
			bounded = filtered
		}
	}

	window := make([]detector.CLUEvent, 0, len(bounded))
	for _, ev := range bounded {
		window = append(window, detector.CLUEvent{TS: ev.TS, Idx: ev.Idx, MarkerID: ev.MarkerID})
	}
	hits := c.detectorFn(c.def.ID, window, catalog)

	out := make([]store.Event, 0, len(hits))
	for _, h := range hits {
		out = append(out, store.Event{
			Conv:      conv,
			TS:        h.TS,
			Idx:       h.Idx,
			MarkerID:  c.def.ID,
			Rationale: h.Rationale,
		})
	}
	return out, nil
}
