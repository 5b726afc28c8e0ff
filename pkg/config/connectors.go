package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Option returns the option value for key, or def when unset.
func (s *SourceConfig) Option(key, def string) string {
	if v, ok := s.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// BoolOption parses a boolean option.
func (s *SourceConfig) BoolOption(key string, def bool) (bool, error) {
	v, ok := s.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("option %q: %w", key, err)
	}
	return b, nil
}

// IntOption parses an integer option.
func (s *SourceConfig) IntOption(key string, def int) (int, error) {
	v, ok := s.Options[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("option %q: %w", key, err)
	}
	return n, nil
}

// ListOption splits a comma separated option, trimming blanks.
func (s *SourceConfig) ListOption(key string) []string {
	v, ok := s.Options[key]
	if !ok || v == "" {
		return nil
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
