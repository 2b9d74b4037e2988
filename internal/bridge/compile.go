package bridge

import (
	"errors"
	"fmt"

	"github.com/thin-edge/tedge-mapper-core/pkg/message"
)

// ErrNoMatch is returned by ForwardingTable.Test when a topic matches no
// compiled entry; callers map this to CLI exit code 2.
var ErrNoMatch = errors.New("bridge: no forwarding entry matches topic")

// ErrWildcardTopic is returned by Test when given a non-concrete topic;
// test operates on a single concrete publish, not a subscription filter.
var ErrWildcardTopic = errors.New("bridge: test requires a concrete topic, not a filter")

// ForwardingTable is the compiled, variable-free result of the Bridge Rule
// Engine: a list of Entry grouped by nothing in particular, plus whatever
// rules were dropped during compilation (always recorded by Compile;
// Inspect returns them only when debug is requested).
type ForwardingTable struct {
	Entries []Entry
	Dropped []DroppedRule
}

// Compile resolves every variable reference and `if`/`for` in file against
// resolver and produces a ForwardingTable. Order of operations per entry:
// if, then for-expansion (template rules only), then variable
// substitution — matching the evaluation order a rule author reads
// top-to-bottom in the TOML file.
func Compile(file *File, resolver Resolver) (*ForwardingTable, error) {
	table := &ForwardingTable{}

	fileOK := true
	if file.If != "" {
		ok, err := EvalCondition(file.If, resolver)
		if err := requireConditionResolved("<file>", file.If, err); err != nil {
			return nil, err
		}
		fileOK = ok
	}
	if !fileOK {
		table.Dropped = append(table.Dropped, DroppedRule{SourceRule: "<file>", Reason: "file-level if was false"})
		return table, nil
	}

	for i, rule := range file.Rule {
		name := fmt.Sprintf("rule[%d] %s", i, rule.Topic)
		entry, dropped, err := compileRule(name, file, rule, resolver)
		if err != nil {
			return nil, err
		}
		if dropped != nil {
			table.Dropped = append(table.Dropped, *dropped)
			continue
		}
		table.Entries = append(table.Entries, *entry)
	}

	for i, tmpl := range file.TemplateRule {
		name := fmt.Sprintf("template_rule[%d] %s", i, tmpl.Topic)
		if tmpl.If != "" {
			ok, err := EvalCondition(tmpl.If, resolver)
			if err := requireConditionResolved(name, tmpl.If, err); err != nil {
				return nil, err
			}
			if !ok {
				table.Dropped = append(table.Dropped, DroppedRule{SourceRule: name, Reason: "if was false"})
				continue
			}
		}
		expanded, err := expandTemplate(tmpl, resolver)
		if err != nil {
			return nil, err
		}
		if len(expanded) == 0 {
			table.Dropped = append(table.Dropped, DroppedRule{SourceRule: name, Reason: "for expanded to zero elements"})
			continue
		}
		for j, rule := range expanded {
			itemName := fmt.Sprintf("%s[%d]", name, j)
			entry, dropped, err := compileRule(itemName, file, rule, resolver)
			if err != nil {
				return nil, err
			}
			if dropped != nil {
				table.Dropped = append(table.Dropped, *dropped)
				continue
			}
			table.Entries = append(table.Entries, *entry)
		}
	}

	return table, nil
}

func compileRule(name string, file *File, rule Rule, resolver Resolver) (*Entry, *DroppedRule, error) {
	if rule.If != "" {
		ok, err := EvalCondition(rule.If, resolver)
		if err := requireConditionResolved(name, rule.If, err); err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, &DroppedRule{SourceRule: name, Reason: "if was false"}, nil
		}
	}

	localPrefix, err := Substitute(coalesce(rule.LocalPrefix, file.LocalPrefix), resolver)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge: %s: local_prefix: %w", name, err)
	}
	remotePrefix, err := Substitute(coalesce(rule.RemotePrefix, file.RemotePrefix), resolver)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge: %s: remote_prefix: %w", name, err)
	}
	topic, err := Substitute(rule.Topic, resolver)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge: %s: topic: %w", name, err)
	}

	direction := rule.Direction
	if direction == "" {
		direction = DirectionOutbound
	}

	return &Entry{
		LocalTopicFilter:  joinTopic(localPrefix, topic),
		RemoteTopicFilter: joinTopic(remotePrefix, topic),
		Direction:         direction,
		SourceRule:        name,
	}, nil, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinTopic(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + topic
}

// Inspect lists every compiled entry. When debug is true it also appends
// the rules dropped during compilation and why.
func (t *ForwardingTable) Inspect(debug bool) ([]Entry, []DroppedRule) {
	if !debug {
		return t.Entries, nil
	}
	return t.Entries, t.Dropped
}

// Match pairs a matching Entry with the concrete local or remote topic
// filter that produced the match, for Test's output.
type Match struct {
	Entry     Entry
	Direction Direction
}

// Test returns every entry whose local or remote topic filter matches the
// given concrete topic, honoring direction (an inbound-only entry does not
// match as a local-side publish, and vice versa). topic must not contain
// MQTT wildcards. ErrNoMatch is returned, wrapped, when nothing matches.
func (t *ForwardingTable) Test(topic string) ([]Match, error) {
	if containsWildcard(topic) {
		return nil, fmt.Errorf("%w: %q", ErrWildcardTopic, topic)
	}

	var matches []Match
	for _, entry := range t.Entries {
		if message.TopicMatches(entry.LocalTopicFilter, topic) &&
			(entry.Direction == DirectionOutbound || entry.Direction == DirectionBidirectional) {
			matches = append(matches, Match{Entry: entry, Direction: DirectionOutbound})
		}
		if message.TopicMatches(entry.RemoteTopicFilter, topic) &&
			(entry.Direction == DirectionInbound || entry.Direction == DirectionBidirectional) {
			matches = append(matches, Match{Entry: entry, Direction: DirectionInbound})
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, topic)
	}
	return matches, nil
}

func containsWildcard(topic string) bool {
	for _, r := range topic {
		if r == '+' || r == '#' {
			return true
		}
	}
	return false
}
