package config

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings is the read-only key/value view of the instance configuration.
// Keys are dotted paths ("http.port"); values are always the literal text
// found in the configuration file or the environment.
type Settings struct {
	values map[string]string
}

// NewSettings copies values into an immutable Settings.
func NewSettings(values map[string]string) *Settings {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Settings{values: copied}
}

// Empty returns settings with no keys; every getter yields its default.
func Empty() *Settings {
	return NewSettings(nil)
}

// Get returns the raw value for key, or def when the key is absent.
func (s *Settings) Get(key, def string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

// Lookup reports whether key is set.
func (s *Settings) Lookup(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetAsInt parses key as a base-10 integer. A missing key yields def and a
// nil error; malformed text yields def and the parse error so callers can
// decide whether it is fatal.
func (s *Settings) GetAsInt(key string, def int) (int, error) {
	v, ok := s.values[key]
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, err
	}
	return i, nil
}

// MustInt is GetAsInt that swallows parse errors.
func (s *Settings) MustInt(key string, def int) int {
	i, err := s.GetAsInt(key, def)
	if err != nil {
		return def
	}
	return i
}

// GetAsBoolean parses key with strconv.ParseBool, falling back to def.
func (s *Settings) GetAsBoolean(key string, def bool) bool {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// GetAsDuration parses key with time.ParseDuration, falling back to def.
func (s *Settings) GetAsDuration(key string, def time.Duration) time.Duration {
	v, ok := s.values[key]
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// GetAsList splits a comma separated value.
func (s *Settings) GetAsList(key string) []string {
	return splitAndTrim(s.values[key])
}

// Sub returns every key below prefix with the prefix (and its dot) removed.
func (s *Settings) Sub(prefix string) map[string]string {
	p := strings.TrimSuffix(prefix, ".") + "."
	out := make(map[string]string)
	for k, v := range s.values {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = v
		}
	}
	return out
}

// Keys returns all keys in lexical order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of s with the given keys overridden.
func (s *Settings) With(overrides map[string]string) *Settings {
	merged := make(map[string]string, len(s.values)+len(overrides))
	for k, v := range s.values {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &Settings{values: merged}
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
