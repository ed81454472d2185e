package engine

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/rules"
	"github.com/transrapport/engine/internal/store"
)

// DefaultSEMRule is applied to any enabled SEM lacking its own
// activation.rule (spec §4.7).
const DefaultSEMRule = "ANY 2 IN 3 messages"

type compiledSEM struct {
	def  markerdef.Definition
	pred *rules.Predicate
	set  map[string]bool
}

// SEMEngine evaluates each SEM definition's sliding message-window rule
// against a conv's ATO events.
type SEMEngine struct {
	compiled []compiledSEM
}

// NewSEMEngine compiles every definition's activation rule, falling back
// to overrideRule (the orchestrator's window.sem override, or "" to use
// DefaultSEMRule) when a definition has none of its own.
func NewSEMEngine(defs []markerdef.Definition, overrideRule string) (*SEMEngine, error) {
	fallback := DefaultSEMRule
	if overrideRule != "" {
		fallback = overrideRule
	}
	compiled := make([]compiledSEM, 0, len(defs))
	for _, d := range defs {
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
		compiled = append(compiled, compiledSEM{def: d, pred: pred, set: set})
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].def.ID < compiled[j].def.ID })
	return &SEMEngine{compiled: compiled}, nil
}

// Run evaluates every SEM's window at each message index in msgs against
// atoEvents. A SEM is condition-like, not transition-like (spec §4.7,
// design note 3): it may re-emit at a later satisfying message without
// first going false, unlike CLU/MEMA. It still emits at most once per
// message index, and does not repeat an identical, unchanged evidence set
// turn after turn — re-emission happens when the window's contributing
// ATO evidence actually changes, not on every trivially-still-true tick.
func (e *SEMEngine) Run(conv string, msgs []chunk.Message, atoEvents []store.Event) ([]store.Event, error) {
	byIdx := groupByIdx(atoEvents)

	perDef := make([][]store.Event, len(e.compiled))
	g := new(errgroup.Group)
	for i, c := range e.compiled {
		i, c := i, c
		g.Go(func() error {
			evs, err := c.runOne(conv, msgs, byIdx)
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

func (c *compiledSEM) runOne(conv string, msgs []chunk.Message, byIdx map[int][]store.Event) ([]store.Event, error) {
	var out []store.Event
	lastAtosJSON := ""

	for _, msg := range msgs {
		start := msg.Idx - c.pred.WindowSize + 1
		members := windowMembers(byIdx, start, msg.Idx)
		distinct, total := distinctAndCount(members, c.set)

		satisfied := false
		switch c.pred.Kind {
		case rules.KindCount:
			satisfied = total >= c.pred.Threshold && len(distinct) >= 2
		case rules.KindDistinct:
			satisfied = len(distinct) >= c.pred.Threshold
		}
		if !satisfied {
			lastAtosJSON = ""
			continue
		}

		atosJSON, err := marshalIDs(distinct)
		if err != nil {
			return nil, err
		}
		if atosJSON == lastAtosJSON {
			continue
		}
		lastAtosJSON = atosJSON

		out = append(out, store.Event{
			Conv:     conv,
			TS:       msg.TS,
			Idx:      msg.Idx,
			MarkerID: c.def.ID,
			AtosJSON: atosJSON,
		})
	}
	return out, nil
}
