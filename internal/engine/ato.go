package engine

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/transrapport/engine/internal/chunk"
	"github.com/transrapport/engine/internal/engineerr"
	"github.com/transrapport/engine/internal/markerdef"
	"github.com/transrapport/engine/internal/store"
)

// compiledATO pairs a loaded ATO definition with its compiled matcher.
// Matching is case-folded by lower-casing both the pattern and the
// candidate text at compile/match time rather than via the regexp
// package's "(?i)" inline flag: spec §4.6 requires leftmost-longest
// resolution for overlapping matches, which needs regexp.CompilePOSIX,
// and the POSIX ERE syntax CompilePOSIX parses does not support Perl
// inline flags.
type compiledATO struct {
	def   markerdef.Definition
	regex *regexp.Regexp
}

func compileATO(def markerdef.Definition) (*compiledATO, error) {
	if def.Pattern == nil {
		return nil, &engineerr.EngineError{Kind: engineerr.EnginePatternCompile, MarkerID: def.ID, Detail: "missing pattern"}
	}
	re, err := regexp.CompilePOSIX(strings.ToLower(*def.Pattern))
	if err != nil {
		return nil, &engineerr.EngineError{Kind: engineerr.EnginePatternCompile, MarkerID: def.ID, Detail: err.Error()}
	}
	return &compiledATO{def: def, regex: re}, nil
}

// matches returns the leftmost-longest, non-overlapping match spans of
// c's pattern in text.
func (c *compiledATO) matches(text string) [][2]int {
	return c.regex.FindAllStringIndex(strings.ToLower(text), -1)
}

// ATOEngine scans every message against every enabled ATO definition.
type ATOEngine struct {
	compiled []*compiledATO
}

// NewATOEngine compiles every definition's pattern. defs should already be
// filtered to enabled ATO definitions; compilation order does not affect
// output, which is re-sorted deterministically regardless.
func NewATOEngine(defs []markerdef.Definition) (*ATOEngine, error) {
	compiled := make([]*compiledATO, 0, len(defs))
	for _, d := range defs {
		c, err := compileATO(d)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].def.ID < compiled[j].def.ID })
	return &ATOEngine{compiled: compiled}, nil
}

// Run scans msgs in order, emitting one ATO event per match. Definitions
// are matched concurrently within a message (spec §5: "parallelize across
// independent ATO definitions within a message") — each goroutine writes
// only to its own slice slot, so the fan-in merge is race-free, and a
// final stable sort restores the totally-ordered (idx, marker_id) output
// the orchestrator requires regardless of goroutine scheduling.
func (e *ATOEngine) Run(conv string, msgs []chunk.Message) ([]store.Event, error) {
	var out []store.Event
	for _, msg := range msgs {
		perDef := make([][]store.Event, len(e.compiled))
		g := new(errgroup.Group)
		for i, c := range e.compiled {
			i, c := i, c
			g.Go(func() error {
				for _, span := range c.matches(msg.Text) {
					perDef[i] = append(perDef[i], store.Event{
						Conv:     conv,
						TS:       msg.TS,
						Idx:      msg.Idx,
						MarkerID: c.def.ID,
						Text:     msg.Text[span[0]:span[1]],
					})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		var perMsg []store.Event
		for _, evs := range perDef {
			perMsg = append(perMsg, evs...)
		}
		sort.SliceStable(perMsg, func(i, j int) bool { return perMsg[i].MarkerID < perMsg[j].MarkerID })
		out = append(out, perMsg...)
	}
	return out, nil
}
