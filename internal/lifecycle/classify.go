package lifecycle

import "strings"

// Kind categorizes one entry found under MappersRoot().
type Kind string

const (
	KindBuiltIn         Kind = "built-in"
	KindProfileOfBuiltIn Kind = "profile-of-built-in"
	KindCustom          Kind = "custom"
	KindUnrecognised    Kind = "unrecognised"
)

// KnownMappers lists the built-in mapper kinds this distribution ships;
// anything else is either a profile of one of these, the reserved
// "custom" kind, or unrecognised.
var KnownMappers = []string{"c8y", "az", "aws", "collectd"}

// Classification is one scanned directory entry and its derived Kind.
type Classification struct {
	Entry string
	Kind  Kind
}

// Classify categorizes each entry name found under /etc/tedge/mappers/.
func Classify(entries []string) []Classification {
	result := make([]Classification, 0, len(entries))
	for _, e := range entries {
		result = append(result, Classification{Entry: e, Kind: classifyOne(e)})
	}
	return result
}

func classifyOne(entry string) Kind {
	base, suffix, hasSuffix := strings.Cut(entry, ".")

	if isKnown(entry) {
		return KindBuiltIn
	}
	if entry == "custom" {
		return KindCustom
	}
	if hasSuffix {
		if base == "custom" {
			return KindCustom
		}
		if isKnown(base) && suffix != "" {
			return KindProfileOfBuiltIn
		}
	}
	return KindUnrecognised
}

func isKnown(name string) bool {
	for _, k := range KnownMappers {
		if k == name {
			return true
		}
	}
	return false
}

// Unrecognised filters a classification list down to just the entries
// that should generate a startup warning.
func Unrecognised(classifications []Classification) []string {
	var out []string
	for _, c := range classifications {
		if c.Kind == KindUnrecognised {
			out = append(out, c.Entry)
		}
	}
	return out
}
