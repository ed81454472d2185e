// Package markerdef holds the in-memory representation of a marker
// definition as read from a declarative YAML file, before and after
// validation. It is a tagged variant over the four marker classes rather
// than a class hierarchy: one struct, one Class tag, and the fields legal
// for that class populated.
package markerdef

import "time"

// Class is the marker's position in the ATO→SEM→CLU→MEMA layering.
type Class string

const (
	ClassATO  Class = "ATO"
	ClassSEM  Class = "SEM"
	ClassCLU  Class = "CLU"
	ClassMEMA Class = "MEMA"
)

// Prefix returns the id prefix mandated for this class, e.g. "ATO_".
func (c Class) Prefix() string {
	return string(c) + "_"
}

// Frame carries the four descriptor strings every marker must supply.
type Frame struct {
	Signal     string `yaml:"signal"`
	Concept    string `yaml:"concept"`
	Pragmatics string `yaml:"pragmatics"`
	Narrative  string `yaml:"narrative"`
}

// Scoring configures a CLU's SUM(weight) contribution and reporting
// projection. Weight/decay apply per contributing SEM event.
type Scoring struct {
	Base      float64 `yaml:"base"`
	Weight    float64 `yaml:"weight"`
	Decay     float64 `yaml:"decay"`
	Formula   string  `yaml:"formula"` // "linear" | "logistic"
	DecayUnit string  `yaml:"decay_unit,omitempty"` // "messages" | "seconds", default "messages"
}

// Activation wraps the raw activation-rule DSL string; internal/rules
// parses it into a predicate tree at validation/load time.
type Activation struct {
	Rule string `yaml:"rule"`
}

// Definition is the parsed, not-yet-validated contents of one marker file.
// Exactly one of Pattern, ComposedOf, DetectClass should be set by the time
// validation runs; which one is legal is determined by Class.
type Definition struct {
	ID    string   `yaml:"id"`
	Class Class    `yaml:"-"` // assigned by the loader from directory, not the file
	Frame Frame    `yaml:"frame"`
	Examples []string `yaml:"examples"`
	Tags  []string `yaml:"tags"`

	Pattern     *string  `yaml:"pattern"`
	ComposedOf  []string `yaml:"composed_of"`
	DetectClass *string  `yaml:"detect_class"`

	Activation *Activation `yaml:"activation"`
	Scoring    *Scoring    `yaml:"scoring"`
	Window     *string     `yaml:"window"`

	// SourcePath and Checksum are filled in by the loader, not the file.
	SourcePath string    `yaml:"-"`
	Checksum   string    `yaml:"-"`
	LoadedAt   time.Time `yaml:"-"`
}

// Meta is the subset of a Definition persisted in the store's markers table.
type Meta struct {
	ID            string
	Class         Class
	SourcePath    string
	Checksum      string
	SchemaVersion int
	Enabled       bool
	UpdatedAt     time.Time
}
