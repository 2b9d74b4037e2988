// Package config provides environment-variable loading, TOML document
// loading, and validation helpers shared across the mapper's commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Error wraps a configuration problem with the file or key that caused it.
type Error struct {
	Source string // file path or env var name
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Source, e.Reason)
}

// EnvConfig reads configuration from environment variables under an
// optional common prefix, e.g. prefix "TEDGE_MAPPER" turns key "port"
// into env var TEDGE_MAPPER_PORT.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates an environment loader scoped to prefix.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	key = strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	if ec.prefix == "" {
		return key
	}
	return strings.ToUpper(ec.prefix) + "_" + key
}

// GetString returns the env value for key, or defaultValue if unset.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// MustGetString returns the env value for key or returns an error.
func (ec *EnvConfig) MustGetString(key string) (string, error) {
	fullKey := ec.buildKey(key)
	v := os.Getenv(fullKey)
	if v == "" {
		return "", &Error{Source: fullKey, Reason: "required environment variable not set"}
	}
	return v, nil
}

// GetInt returns the env value for key parsed as int, or defaultValue.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBool returns the env value for key parsed as bool, or defaultValue.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDuration returns the env value for key parsed as a duration, or defaultValue.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetStringSlice returns the comma-separated env value for key split into a
// slice, or defaultValue.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validator accumulates configuration errors so callers can report every
// problem in one pass instead of failing on the first.
type Validator struct {
	errs []string
}

// RequireString appends an error if value is empty.
func (v *Validator) RequireString(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.errs = append(v.errs, fmt.Sprintf("%s must not be empty", field))
	}
}

// RequirePositiveInt appends an error if value is not > 0.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errs = append(v.errs, fmt.Sprintf("%s must be a positive integer, got %d", field, value))
	}
}

// RequireOneOf appends an error if value is not among allowed.
func (v *Validator) RequireOneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errs = append(v.errs, fmt.Sprintf("%s must be one of %v, got %q", field, allowed, value))
}

// IsValid reports whether no errors have been recorded.
func (v *Validator) IsValid() bool { return len(v.errs) == 0 }

// Errors returns the accumulated validation errors.
func (v *Validator) Errors() []string { return v.errs }

// Err returns a single error combining all accumulated problems, or nil.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return &Error{Source: "validation", Reason: strings.Join(v.errs, "; ")}
}

// LoadTOML decodes the TOML document at path into a new T and returns it.
// It is the entry point used by flow and bridge-rule loaders, both of which
// store their declarative configuration as TOML documents on disk.
func LoadTOML[T any](path string) (T, error) {
	var out T
	if _, err := toml.DecodeFile(path, &out); err != nil {
		return out, &Error{Source: path, Reason: err.Error()}
	}
	return out, nil
}

// DecodeTOML decodes raw TOML bytes into a new T, for callers that already
// have the document in memory (e.g. after an fsnotify read).
func DecodeTOML[T any](data []byte) (T, error) {
	var out T
	if _, err := toml.Decode(string(data), &out); err != nil {
		return out, &Error{Source: "<memory>", Reason: err.Error()}
	}
	return out, nil
}
