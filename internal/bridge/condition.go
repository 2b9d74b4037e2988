package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// EvalCondition evaluates a rule's `if` expression: a bare boolean variable
// reference (false if it resolves to a false boolean token, "0" or "";
// any other value is true), or a scalar equality/
// inequality comparison ("${config.transport} == mqtt"). No other operators
// are supported; this is the full conditional grammar a bridge rule needs.
func EvalCondition(expr string, resolver Resolver) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	if op, left, right, ok := splitComparison(expr); ok {
		lv, err := resolveOperand(left, resolver)
		if err != nil {
			return false, err
		}
		rv, err := resolveOperand(right, resolver)
		if err != nil {
			return false, err
		}
		switch op {
		case "==":
			return lv == rv, nil
		case "!=":
			return lv != rv, nil
		}
	}

	value, err := resolveOperand(expr, resolver)
	if err != nil {
		return false, err
	}
	return isTruthy(value), nil
}

func splitComparison(expr string) (op, left, right string, ok bool) {
	for _, candidate := range []string{"==", "!="} {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			return candidate, strings.TrimSpace(expr[:idx]), strings.TrimSpace(expr[idx+len(candidate):]), true
		}
	}
	return "", "", "", false
}

// resolveOperand resolves a ${...} reference through resolver, or returns a
// bare literal (string, number, or boolean token) with any surrounding
// single or double quotes trimmed.
func resolveOperand(operand string, resolver Resolver) (string, error) {
	if strings.HasPrefix(operand, "${") && strings.HasSuffix(operand, "}") {
		reference := strings.TrimSuffix(strings.TrimPrefix(operand, "${"), "}")
		return resolver.Resolve(reference)
	}
	return strings.Trim(operand, `"'`), nil
}

func isTruthy(value string) bool {
	b, err := strconv.ParseBool(value)
	if err == nil {
		return b
	}
	return value != "" && value != "0"
}

// requireConditionResolved is a guard used by Compile to turn an
// unresolvable `if` reference into a descriptive compile error rather than
// a silently-false condition.
func requireConditionResolved(rule, expr string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("bridge: rule %q: evaluating if %q: %w", rule, expr, err)
}
