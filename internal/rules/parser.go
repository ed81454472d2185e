package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/transrapport/engine/internal/engineerr"
)

// Parse turns one activation-rule DSL string (spec §4.4) into a Predicate.
// No combinator/parser-generator library in the reference corpus targets a
// grammar this small; a hand-rolled tokenizer keeps the dependency surface
// honest (see DESIGN.md for the stdlib-justification entry).
func Parse(src string) (*Predicate, error) {
	text := strings.TrimSpace(src)
	toks := tokenize(text)
	if len(toks) == 0 {
		return nil, &engineerr.ParseError{RuleText: src, Span: "", Detail: "empty rule"}
	}

	switch {
	case toks[0] == "ANY":
		return parseCount(text, toks)
	case toks[0] == "AT_LEAST":
		return parseDistinct(text, toks)
	case strings.HasPrefix(toks[0], "SUM("):
		return parseSum(text, toks)
	default:
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[0], Detail: "rule must start with ANY, AT_LEAST, or SUM(weight)"}
	}
}

// tokenize splits on whitespace; "SUM(weight)" and comparators stay intact
// as single tokens because there is no whitespace inside them in valid input.
func tokenize(s string) []string {
	return strings.Fields(s)
}

func parseCount(src string, toks []string) (*Predicate, error) {
	// ANY <INT> IN <INT> messages
	if len(toks) != 5 || toks[2] != "IN" || toks[4] != "messages" {
		return nil, &engineerr.ParseError{RuleText: src, Span: src, Detail: "count_rule must be: ANY <k> IN <n> messages"}
	}
	k, err := strconv.Atoi(toks[1])
	if err != nil {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[1], Detail: "expected integer threshold"}
	}
	n, err := strconv.Atoi(toks[3])
	if err != nil {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[3], Detail: "expected integer window size"}
	}
	return &Predicate{
		Kind:       KindCount,
		Threshold:  k,
		WindowSize: n,
		WindowUnit: WindowMessages,
		Source:     src,
	}, nil
}

func parseDistinct(src string, toks []string) (*Predicate, error) {
	// AT_LEAST <INT> DISTINCT (SEMs|ATOs|CLUs) IN <INT> messages
	if len(toks) != 7 || toks[2] != "DISTINCT" || toks[4] != "IN" || toks[6] != "messages" {
		return nil, &engineerr.ParseError{RuleText: src, Span: src, Detail: "distinct_rule must be: AT_LEAST <x> DISTINCT <Entity> IN <n> messages"}
	}
	x, err := strconv.Atoi(toks[1])
	if err != nil {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[1], Detail: "expected integer threshold"}
	}
	var entity DistinctEntity
	switch toks[3] {
	case string(EntitySEM):
		entity = EntitySEM
	case string(EntityATO):
		entity = EntityATO
	case string(EntityCLU):
		entity = EntityCLU
	default:
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[3], Detail: "expected SEMs, ATOs, or CLUs"}
	}
	n, err := strconv.Atoi(toks[5])
	if err != nil {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[5], Detail: "expected integer window size"}
	}
	return &Predicate{
		Kind:       KindDistinct,
		Threshold:  x,
		WindowSize: n,
		WindowUnit: WindowMessages,
		Distinct:   true,
		Entity:     entity,
		Source:     src,
	}, nil
}

func parseSum(src string, toks []string) (*Predicate, error) {
	// SUM(weight) CMP NUMBER WITHIN DURATION
	// DURATION may be a single token like "30s" or two tokens "30 messages".
	if toks[0] != "SUM(weight)" {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[0], Detail: "expected literal SUM(weight)"}
	}
	if len(toks) < 5 {
		return nil, &engineerr.ParseError{RuleText: src, Span: src, Detail: "sum_rule must be: SUM(weight) <cmp> <number> WITHIN <duration>"}
	}
	var cmp Comparator
	switch toks[1] {
	case string(CmpGE):
		cmp = CmpGE
	case string(CmpGT):
		cmp = CmpGT
	default:
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[1], Detail: "expected >= or >"}
	}
	target, err := strconv.ParseFloat(toks[2], 64)
	if err != nil {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[2], Detail: "expected numeric threshold"}
	}
	if toks[3] != "WITHIN" {
		return nil, &engineerr.ParseError{RuleText: src, Span: toks[3], Detail: "expected WITHIN"}
	}
	p := &Predicate{Kind: KindSum, Cmp: cmp, Target: target, Source: src}
	if len(toks) == 5 {
		dur, err := parseDuration(toks[4])
		if err != nil {
			return nil, &engineerr.ParseError{RuleText: src, Span: toks[4], Detail: err.Error()}
		}
		p.Horizon = dur
		p.WindowUnit = WindowDuration
		return p, nil
	}
	if len(toks) == 6 && toks[5] == "messages" {
		n, err := strconv.Atoi(toks[4])
		if err != nil {
			return nil, &engineerr.ParseError{RuleText: src, Span: toks[4], Detail: "expected integer message count"}
		}
		p.WindowSize = n
		p.WindowUnit = WindowMessages
		return p, nil
	}
	return nil, &engineerr.ParseError{RuleText: src, Span: src, Detail: "expected DURATION (e.g. 30s) or '<n> messages' after WITHIN"}
}

func parseDuration(tok string) (DurationSpec, error) {
	if tok == "" {
		return DurationSpec{}, fmt.Errorf("empty duration")
	}
	unit := rune(tok[len(tok)-1])
	switch unit {
	case 's', 'm', 'h', 'd':
	default:
		return DurationSpec{}, fmt.Errorf("unit must be one of s, m, h, d")
	}
	n, err := strconv.Atoi(tok[:len(tok)-1])
	if err != nil || n <= 0 {
		return DurationSpec{}, fmt.Errorf("expected positive integer before unit")
	}
	return DurationSpec{Count: n, Unit: unit}, nil
}
