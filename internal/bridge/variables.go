package bridge

import (
	"fmt"
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Resolver resolves a dotted variable reference (e.g. "config.device_id"
// or "connection.auth_method") to its string value.
type Resolver interface {
	Resolve(reference string) (string, error)
}

// MapResolver resolves references against a nested map namespace using
// dot-path navigation, the getNestedField pattern generalized to bridge
// variable namespaces.
type MapResolver struct {
	Namespace string // e.g. "config", "connection", "mapper"
	Data      map[string]interface{}
}

func (m *MapResolver) Resolve(reference string) (string, error) {
	prefix := m.Namespace + "."
	if !strings.HasPrefix(reference, prefix) {
		return "", fmt.Errorf("bridge: %q is not in namespace %q", reference, m.Namespace)
	}
	path := strings.TrimPrefix(reference, prefix)
	value, err := getNestedField(m.Data, path)
	if err != nil {
		return "", fmt.Errorf("bridge: %s.%s: %w", m.Namespace, path, err)
	}
	return toScalarString(value)
}

// ResolveValue returns the raw (non-stringified) value for a reference,
// used when a ${...} reference must resolve to an array (the `for` field
// of a template rule) rather than a scalar.
func (m *MapResolver) ResolveValue(reference string) (interface{}, error) {
	prefix := m.Namespace + "."
	if !strings.HasPrefix(reference, prefix) {
		return nil, fmt.Errorf("bridge: %q is not in namespace %q", reference, m.Namespace)
	}
	path := strings.TrimPrefix(reference, prefix)
	return getNestedField(m.Data, path)
}

// ChainResolver tries each resolver in order, returning the first success.
type ChainResolver struct {
	Resolvers []Resolver
}

func (c *ChainResolver) Resolve(reference string) (string, error) {
	var lastErr error
	for _, r := range c.Resolvers {
		v, err := r.Resolve(reference)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", fmt.Errorf("bridge: no resolver could resolve ${%s}: %w", reference, lastErr)
	}
	return "", fmt.Errorf("bridge: no resolvers configured")
}

// Substitute replaces every ${...} reference in value using resolver. An
// unresolved reference is a configuration error, per the invariant that a
// bridge rule with unresolved variables is invalid.
func Substitute(value string, resolver Resolver) (string, error) {
	if !strings.Contains(value, "${") {
		return value, nil
	}
	matches := variablePattern.FindAllStringSubmatch(value, -1)
	out := value
	for _, match := range matches {
		placeholder, reference := match[0], match[1]
		resolved, err := resolver.Resolve(reference)
		if err != nil {
			return "", err
		}
		out = strings.ReplaceAll(out, placeholder, resolved)
	}
	return out, nil
}

// HasUnresolvedReferences reports whether value still contains a ${...}
// placeholder, used as a post-substitution sanity check.
func HasUnresolvedReferences(value string) bool {
	return strings.Contains(value, "${")
}

func getNestedField(data map[string]interface{}, path string) (interface{}, error) {
	if data == nil {
		return nil, fmt.Errorf("namespace data is nil")
	}
	parts := strings.Split(path, ".")
	var current interface{} = data
	for i, key := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %s is not an object, cannot navigate further", parts[i-1])
		}
		value, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("field not found: %s", key)
		}
		if i == len(parts)-1 {
			return value, nil
		}
		current = value
	}
	return current, nil
}

func toScalarString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val), nil
	default:
		return "", fmt.Errorf("value is not a scalar: %T", v)
	}
}
