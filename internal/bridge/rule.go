// Package bridge implements the Bridge Rule Engine: parses a declarative
// rule TOML file with variable interpolation and template expansion, and
// compiles it into a concrete forwarding table between the local broker
// and a remote cloud broker.
package bridge

// Direction is the allowed traffic flow for a compiled forwarding entry.
type Direction string

const (
	DirectionOutbound      Direction = "outbound"
	DirectionInbound       Direction = "inbound"
	DirectionBidirectional Direction = "bidirectional"
)

// File is the root of a parsed rule TOML document.
type File struct {
	LocalPrefix  string         `toml:"local_prefix"`
	RemotePrefix string         `toml:"remote_prefix"`
	If           string         `toml:"if"`
	Rule         []Rule         `toml:"rule"`
	TemplateRule []TemplateRule `toml:"template_rule"`
}

// Rule is a single, non-templated forwarding declaration.
type Rule struct {
	LocalPrefix  string    `toml:"local_prefix"`
	RemotePrefix string    `toml:"remote_prefix"`
	Topic        string    `toml:"topic"`
	Direction    Direction `toml:"direction"`
	If           string    `toml:"if"`
}

// TemplateRule expands into one Rule per element of For, binding ${item}
// inside Topic (and the prefixes, since they may also reference ${item}).
type TemplateRule struct {
	LocalPrefix  string      `toml:"local_prefix"`
	RemotePrefix string      `toml:"remote_prefix"`
	Topic        string      `toml:"topic"`
	Direction    Direction   `toml:"direction"`
	If           string      `toml:"if"`
	For          interface{} `toml:"for"` // a "${config.key}" reference or a literal array of scalars
}

// Entry is the compiled output of the Bridge Rule Engine: a forwarding
// triple with no remaining variables.
type Entry struct {
	LocalTopicFilter  string
	RemoteTopicFilter string
	Direction         Direction
	SourceRule        string // human-readable provenance for inspect/test
}

// DroppedRule records a rule the compiler chose not to emit, either
// because its `if` was false or because a template's `for` expanded to
// zero elements; surfaced only in debug inspect mode.
type DroppedRule struct {
	SourceRule string
	Reason     string
}
