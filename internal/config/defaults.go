// Package config resolves the engine's per-class activation-rule
// defaults (spec §6.2's "schemas/ defaults") the way the teacher's
// pkg/config resolves tarsy.yaml: read an optional YAML file, merge it
// over a built-in baseline with dario.cat/mergo, and hand back a fully
// populated struct that never requires its caller to special-case a
// missing file.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// SEMDefaults holds the fallback activation rule applied to a SEM
// definition that omits activation.rule entirely (spec §4.7).
type SEMDefaults struct {
	Rule string `yaml:"rule"`
}

// MEMADefaults holds the fallback activation rule applied to a rule-mode
// MEMA definition that omits activation.rule entirely (spec §4.9).
type MEMADefaults struct {
	Rule string `yaml:"rule"`
}

// Defaults is schemas/defaults.yaml's shape. CLU deliberately has no
// entry here: its activation.rule has no built-in fallback (a CLU with
// no rule of its own and no run-time window.clu override simply never
// fires, per internal/engine.NewCLUEngine), and its scoring fields use
// 0 as a meaningful explicit value (decay=0 never decays, weight=0
// zeroes a contribution) that a mergo merge cannot tell apart from
// "omitted" — so CLU's per-definition defaulting stays in
// internal/engine/clu.go (defaultScoring for a missing scoring block,
// NewCLUEngine for an empty formula or decay unit), not here.
type Defaults struct {
	SEM  SEMDefaults  `yaml:"sem"`
	MEMA MEMADefaults `yaml:"mema"`
}

func builtinDefaults() Defaults {
	return Defaults{
		SEM:  SEMDefaults{Rule: "ANY 2 IN 3 messages"},
		MEMA: MEMADefaults{Rule: "ANY 3 IN 30 messages"},
	}
}

// Load reads path (schemas/defaults.yaml) and merges it over the
// built-in baseline, an omitted file or omitted section falling back to
// the baseline field by field. A missing file is not an error: it
// returns the built-in baseline unchanged, mirroring the teacher's
// configLoader.loadYAML treatment of os.IsNotExist.
func Load(path string) (Defaults, error) {
	out := builtinDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return Defaults{}, fmt.Errorf("reading defaults file %s: %w", path, err)
	}
	var fromFile Defaults
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Defaults{}, fmt.Errorf("parsing defaults file %s: %w", path, err)
	}
	if err := mergo.Merge(&fromFile, out); err != nil {
		return Defaults{}, fmt.Errorf("merging built-in defaults: %w", err)
	}
	return fromFile, nil
}
