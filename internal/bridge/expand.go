package bridge

import (
	"fmt"
	"strings"
)

// maxTemplateIter bounds how many elements a single template_rule's `for`
// may expand to, mirroring expandLoop's safety cap against a runaway or
// circular config reference.
const maxTemplateIter = 1000

// expandTemplate resolves a TemplateRule's For field to a concrete list of
// scalar items and returns one Rule per item with ${item} substituted into
// Topic, LocalPrefix and RemotePrefix. An empty expansion is not an error;
// the caller records it as a DroppedRule.
func expandTemplate(t TemplateRule, resolver Resolver) ([]Rule, error) {
	items, err := resolveForItems(t.For, resolver)
	if err != nil {
		return nil, fmt.Errorf("bridge: template_rule %q: resolving for: %w", t.Topic, err)
	}
	if len(items) > maxTemplateIter {
		return nil, fmt.Errorf("bridge: template_rule %q: for expands to %d items, exceeds limit of %d",
			t.Topic, len(items), maxTemplateIter)
	}

	rules := make([]Rule, 0, len(items))
	for _, item := range items {
		bound := bindItem(item)
		rules = append(rules, Rule{
			LocalPrefix:  bound(t.LocalPrefix),
			RemotePrefix: bound(t.RemotePrefix),
			Topic:        bound(t.Topic),
			Direction:    t.Direction,
			If:           t.If,
		})
	}
	return rules, nil
}

// bindItem returns a substitution function replacing the literal token
// "${item}" with item's string form, the common case for template rules.
func bindItem(item string) func(string) string {
	return func(s string) string {
		return strings.ReplaceAll(s, "${item}", item)
	}
}

// resolveForItems normalizes a TemplateRule.For value, which after TOML
// decoding is either []interface{} (a literal array) or a string
// "${config.key}" reference resolving to an array.
func resolveForItems(for_ interface{}, resolver Resolver) ([]string, error) {
	switch v := for_.(type) {
	case nil:
		return nil, nil
	case string:
		mr, ok := asMapResolver(resolver)
		if !ok {
			return nil, fmt.Errorf("for reference %q requires a map-backed resolver", v)
		}
		raw, err := mr.ResolveValue(trimVariableRef(v))
		if err != nil {
			return nil, err
		}
		return toStringSlice(raw)
	default:
		return toStringSlice(v)
	}
}

func asMapResolver(r Resolver) (*MapResolver, bool) {
	switch v := r.(type) {
	case *MapResolver:
		return v, true
	case *ChainResolver:
		for _, sub := range v.Resolvers {
			if mr, ok := asMapResolver(sub); ok {
				return mr, true
			}
		}
	}
	return nil, false
}

func trimVariableRef(s string) string {
	if len(s) > 3 && s[:2] == "${" && s[len(s)-1] == '}' {
		return s[2 : len(s)-1]
	}
	return s
}

func toStringSlice(raw interface{}) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array, got %T", raw)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := toScalarString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
