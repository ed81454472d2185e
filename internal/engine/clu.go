package engine

import (
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/rules"
	"github.com/transrapport/engine/internal/store"
)

func defaultScoring() markerdef.Scoring {
	return markerdef.Scoring{Base: 0, Weight: 1.0, Decay: 0, Formula: "linear", DecayUnit: "messages"}
}

type compiledCLU struct {
	def     markerdef.Definition
	pred    *rules.Predicate
	set     map[string]bool
	scoring markerdef.Scoring
}

// CLUEngine evaluates each CLU definition's rule over a conv's SEM events.
// Unlike SEM, a CLU is event-like: it emits only on a false→true
// transition of its predicate (spec §4.8, design note 3) — tracked here
// as per-definition sequential state across the message sequence.
type CLUEngine struct {
	compiled []compiledCLU
}

// NewCLUEngine compiles every definition's rule, falling back to
// overrideRule (the orchestrator's window.clu override, or "" for none)
// when a definition has none of its own; a definition that still has no
// rule after that has nothing to evaluate and never fires, since unlike
// SEM and MEMA, spec §4.8 gives CLU no built-in default rule text.
func NewCLUEngine(defs []markerdef.Definition, overrideRule string) (*CLUEngine, error) {
	compiled := make([]compiledCLU, 0, len(defs))
	for _, d := range defs {
		ruleText := overrideRule
		if d.Activation != nil && d.Activation.Rule != "" {
			ruleText = d.Activation.Rule
		}
		if ruleText == "" {
			continue
		}
		pred, err := rules.Parse(ruleText)
		if err != nil {
			return nil, &engineerr.EngineError{Kind: engineerr.EngineInternal, MarkerID: d.ID, Detail: err.Error()}
		}
		scoring := defaultScoring()
		if d.Scoring != nil {
			scoring = *d.Scoring
			if scoring.Formula == "" {
				scoring.Formula = "linear"
			}
			if scoring.DecayUnit == "" {
				scoring.DecayUnit = "messages"
			}
		}
		set := make(map[string]bool, len(d.ComposedOf))
		for _, id := range d.ComposedOf {
			set[id] = true
		}
		compiled = append(compiled, compiledCLU{def: d, pred: pred, set: set, scoring: scoring})
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].def.ID < compiled[j].def.ID })
	return &CLUEngine{compiled: compiled}, nil
}

// Run evaluates every CLU definition across the full message sequence.
// Definitions are independent of one another, so each runs concurrently
// (spec §5 fan-out across CLU definitions); each definition's own
// evaluation is inherently sequential because transition tracking and
// SUM decay both depend on prior messages.
func (e *CLUEngine) Run(conv string, msgs []chunk.Message, semEvents []store.Event) ([]store.Event, error) {
	byIdx := groupByIdx(semEvents)

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

func (c *compiledCLU) runOne(conv string, msgs []chunk.Message, byIdx map[int][]store.Event) ([]store.Event, error) {
	var out []store.Event
	prevSatisfied := false

	for _, msg := range msgs {
		var satisfied bool
		var ev store.Event
		var err error

		switch c.pred.Kind {
		case rules.KindDistinct:
			satisfied, ev = c.evaluateDistinct(conv, msg, byIdx)
		case rules.KindSum:
			satisfied, ev, err = c.evaluateSum(conv, msg, byIdx)
		}
		if err != nil {
			return nil, err
		}

		if satisfied && !prevSatisfied {
			out = append(out, ev)
		}
		prevSatisfied = satisfied
	}
	return out, nil
}

func (c *compiledCLU) evaluateDistinct(conv string, msg chunk.Message, byIdx map[int][]store.Event) (bool, store.Event) {
	start := msg.Idx - c.pred.WindowSize + 1
	members := windowMembers(byIdx, start, msg.Idx)
	distinct, _ := distinctAndCount(members, c.set)
	if len(distinct) < c.pred.Threshold {
		return false, store.Event{}
	}
	windowJSON, _ := marshalWindow(windowSnapshot{WindowSize: c.pred.WindowSize, WindowUnit: string(c.pred.WindowUnit), Members: distinct})
	return true, store.Event{
		Conv:       conv,
		TS:         msg.TS,
		Idx:        msg.Idx,
		MarkerID:   c.def.ID,
		Score:      float64(len(distinct)),
		WindowJSON: windowJSON,
	}
}

// evaluateSum computes the decayed weighted sum of contributing SEM
// events within the rule's horizon, and the projected score. Window
// membership uses the rule's own unit (message count, or wall-clock
// seconds for a duration horizon); the decay exponent's unit is chosen
// independently by scoring.decay_unit, resolving the ambiguity the spec
// leaves open between decaying by message count or by wall-clock time.
func (c *compiledCLU) evaluateSum(conv string, msg chunk.Message, byIdx map[int][]store.Event) (bool, store.Event, error) {
	var sum float64
	var contributing []string

	start := msg.Idx
	if c.pred.WindowUnit == rules.WindowMessages {
		start = msg.Idx - c.pred.WindowSize + 1
	} else {
		start = 1
	}
	for idx := start; idx <= msg.Idx; idx++ {
		for _, ev := range byIdx[idx] {
			if !c.set[ev.MarkerID] {
				continue
			}
			if c.pred.WindowUnit == rules.WindowDuration {
				if msg.TS.Sub(ev.TS).Seconds() > float64(c.pred.Horizon.Seconds()) {
					continue
				}
			}
			var delta float64
			if c.scoring.DecayUnit == "seconds" {
				delta = msg.TS.Sub(ev.TS).Seconds()
			} else {
				delta = float64(msg.Idx - ev.Idx)
			}
			weight := c.scoring.Weight
			decayFactor := 1.0
			if c.scoring.Decay > 0 {
				decayFactor = math.Exp(-c.scoring.Decay * delta)
			}
			sum += weight * decayFactor
			contributing = append(contributing, ev.MarkerID)
		}
	}

	var satisfied bool
	switch c.pred.Cmp {
	case rules.CmpGE:
		satisfied = sum >= c.pred.Target
	case rules.CmpGT:
		satisfied = sum > c.pred.Target
	}
	if !satisfied {
		return false, store.Event{}, nil
	}

	score := projectScore(sum, c.scoring)
	windowJSON, err := marshalWindow(windowSnapshot{WindowSize: c.pred.WindowSize, WindowUnit: string(c.pred.WindowUnit), Members: contributing})
	if err != nil {
		return false, store.Event{}, err
	}
	return true, store.Event{
		Conv:       conv,
		TS:         msg.TS,
		Idx:        msg.Idx,
		MarkerID:   c.def.ID,
		Score:      score,
		WindowJSON: windowJSON,
	}, nil
}

// projectScore applies scoring.formula to the raw weighted sum.
func projectScore(sum float64, scoring markerdef.Scoring) float64 {
	switch scoring.Formula {
	case "logistic":
		return 1 / (1 + math.Exp(-(sum - scoring.Base)))
	default: // "linear"
		return sum
	}
}
